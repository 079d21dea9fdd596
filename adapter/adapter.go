package adapter

import "context"

// Adapter is the byte pipe to a printer.
type Adapter interface {
	// Open locates the device and claims its printer interface. A failed
	// Open leaves nothing claimed.
	Open(ctx context.Context) error

	// Write sends data to the printer in a single bulk transfer.
	Write(ctx context.Context, data []byte) (int, error)

	// Read reads a response from the printer.
	Read(ctx context.Context, buf []byte) (int, error)

	// Close releases the interface and the device. It is safe to call on
	// an adapter that is not open.
	Close() error

	IsOpen() bool

	// CanRead reports whether the printer exposes an IN endpoint.
	CanRead() bool
}

// EventType represents device events
type EventType int

const (
	EventOpen EventType = iota
	EventClose
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a device event
type Event struct {
	Type   EventType
	Device string
	Error  error
}
