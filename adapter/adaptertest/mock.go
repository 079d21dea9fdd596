// Package adaptertest provides an in-memory printer for tests.
package adaptertest

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// Adapter is a mock implementation of the adapter.Adapter interface. Every
// Write is recorded as one transfer.
type Adapter struct {
	// OpenErr is returned by Open.
	OpenErr error
	// WriteHook is called before each transfer is recorded; a non-nil error
	// fails that transfer.
	WriteHook func(ctx context.Context, index int, data []byte) error
	// NoIn hides the IN endpoint.
	NoIn bool

	mu        sync.Mutex
	open      bool
	opens     int
	closes    int
	transfers [][]byte
	responses [][]byte
}

// Respond queues replies returned by successive Reads. An empty queue reads
// zero bytes.
func (m *Adapter) Respond(replies ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, replies...)
}

func (m *Adapter) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.OpenErr != nil {
		return m.OpenErr
	}
	if m.open {
		return errors.New("device already open")
	}
	m.open = true
	m.opens++
	return nil
}

func (m *Adapter) Write(ctx context.Context, data []byte) (int, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return 0, errors.New("device not open")
	}
	index := len(m.transfers)
	hook := m.WriteHook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, index, data); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, bytes.Clone(data))
	return len(data), nil
}

func (m *Adapter) Read(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, errors.New("device not open")
	}
	if m.NoIn {
		return 0, errors.New("input endpoint not available")
	}
	if len(m.responses) == 0 {
		return 0, nil
	}
	reply := m.responses[0]
	m.responses = m.responses[1:]
	return copy(buf, reply), nil
}

func (m *Adapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		m.closes++
	}
	m.open = false
	return nil
}

func (m *Adapter) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Adapter) CanRead() bool {
	return !m.NoIn
}

// Transfers returns a copy of every successful transfer in order.
func (m *Adapter) Transfers() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// Written is the concatenation of all transfers.
func (m *Adapter) Written() []byte {
	return bytes.Join(m.Transfers(), nil)
}

// Opens and Closes count successful opens and releases.
func (m *Adapter) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *Adapter) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Reset forgets recorded transfers.
func (m *Adapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = nil
}
