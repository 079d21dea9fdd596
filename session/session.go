// Package session owns the connection to one printer and serialises all
// traffic to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nixxel-company-limited/ql-usb-server/adapter"
	"github.com/nixxel-company-limited/ql-usb-server/command"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/nixxel-company-limited/ql-usb-server/status"
	"go.uber.org/zap"
)

// State of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Printing
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Printing:
		return "printing"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// DefaultChunkSize is the largest single bulk transfer.
	DefaultChunkSize = 16 * 1024
	// DefaultStatusDelay is how long the printer gets to answer a status request.
	DefaultStatusDelay = 100 * time.Millisecond
	// DefaultReadTimeout bounds a single status read.
	DefaultReadTimeout = time.Second
)

// Opener returns a fresh, unopened adapter for each connection attempt.
type Opener func() adapter.Adapter

type Options struct {
	ChunkSize   int
	StatusDelay time.Duration
	ReadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.StatusDelay <= 0 {
		o.StatusDelay = DefaultStatusDelay
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Session is the single owner of a printer's device handle. A failed
// transfer puts it in the Error state until Disconnect.
type Session struct {
	open   Opener
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	dev     adapter.Adapter
	failure error
	last    *status.Report

	// io is held for the duration of any exchange with the device.
	io sync.Mutex
}

func New(open Opener, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		open:   open,
		opts:   opts.withDefaults(),
		logger: logger.Named("session"),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns the error that put the session into the Error state.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// LastStatus returns the most recent decoded status report, if any.
func (s *Session) LastStatus() (*status.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}

// Connect opens the printer. It is a no-op when already connected. On
// failure or cancellation nothing stays claimed and the session is
// Disconnected again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connected, Printing:
		s.mu.Unlock()
		return nil
	case Connecting:
		s.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", qlerr.ErrSessionBusy)
	case Error:
		err := s.failure
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", qlerr.ErrSessionFailed, err)
	}
	s.state = Connecting
	s.mu.Unlock()

	s.logger.Debug("Connecting")
	dev := s.open()
	err := dev.Open(ctx)
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && s.state != Connecting {
		err = errors.New("session disconnected during connect")
	}
	if err != nil {
		if cerr := dev.Close(); cerr != nil {
			s.logger.Warn("Release after failed connect", zap.Error(cerr))
		}
		s.state = Disconnected
		s.logger.Warn("Connect failed", zap.Error(err))
		return err
	}
	s.dev = dev
	s.state = Connected
	s.logger.Info("Connected", zap.Bool("can_read", dev.CanRead()))
	return nil
}

// Send writes data to the printer in ascending chunks of at most
// Options.ChunkSize bytes. The first chunk the device does not fully accept
// aborts the rest and moves the session to Error. A cancelled context
// before the first chunk leaves the session Connected; after it, the device
// is released since the printer holds a partial job.
func (s *Session) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	switch s.state {
	case Printing:
		s.mu.Unlock()
		return fmt.Errorf("%w: a job is already printing", qlerr.ErrSessionBusy)
	case Error:
		err := s.failure
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", qlerr.ErrSessionFailed, err)
	case Connected:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session is %s, not connected", state)
	}
	dev := s.dev
	s.state = Printing
	s.mu.Unlock()

	s.io.Lock()
	sent, err := s.write(ctx, dev, data)
	s.io.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != dev {
		// Disconnected underneath the job.
		if err == nil {
			err = errors.New("session disconnected during send")
		}
		return err
	}

	var te *qlerr.TransferError
	switch {
	case err == nil:
		s.state = Connected
		s.logger.Debug("Sent", zap.Int("bytes", len(data)), zap.Int("chunks", sent))
		return nil

	case ctx.Err() != nil && !errors.As(err, &te):
		if sent == 0 {
			s.state = Connected
			return err
		}
		s.logger.Warn("Send cancelled mid-stream, releasing printer", zap.Int("chunks_sent", sent))
		if cerr := s.dev.Close(); cerr != nil {
			s.logger.Warn("Release failed", zap.Error(cerr))
		}
		s.dev = nil
		s.state = Disconnected
		return err

	default:
		s.state = Error
		s.failure = err
		s.logger.Error("Send failed", zap.Error(err))
		return err
	}
}

// write returns the number of chunks the device accepted.
func (s *Session) write(ctx context.Context, dev adapter.Adapter, data []byte) (int, error) {
	size := s.opts.ChunkSize
	chunks := (len(data) + size - 1) / size

	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		chunk := data[i*size : min((i+1)*size, len(data))]

		n, err := dev.Write(ctx, chunk)
		if err != nil && ctx.Err() != nil {
			return i, fmt.Errorf("chunk %d: %w", i, ctx.Err())
		}
		if err != nil {
			return i, &qlerr.TransferError{Chunk: i, Status: adapter.TransferStatus(err), Err: err}
		}
		if n != len(chunk) {
			return i, &qlerr.TransferError{
				Chunk:  i,
				Status: fmt.Sprintf("short write, %d of %d bytes", n, len(chunk)),
			}
		}
	}
	return chunks, nil
}

// QueryStatus asks the printer for its status. A short answer is retried
// once; after that the last known report is returned, if there is one.
// While a job is printing only the last known report is returned.
func (s *Session) QueryStatus(ctx context.Context) (*status.Report, bool) {
	s.mu.Lock()
	dev, state, last := s.dev, s.state, s.last
	s.mu.Unlock()

	if state != Connected || !dev.CanRead() {
		return last, last != nil
	}

	s.io.Lock()
	report, err := s.queryStatus(ctx, dev)
	s.io.Unlock()

	if err != nil {
		s.logger.Debug("Status unavailable", zap.Error(err))
		return last, last != nil
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	s.logger.Debug("Status", zap.Stringer("report", report))
	return report, true
}

func (s *Session) queryStatus(ctx context.Context, dev adapter.Adapter) (*status.Report, error) {
	if _, err := dev.Write(ctx, command.StatusRequest()); err != nil {
		return nil, err
	}

	buf := make([]byte, status.Size)
	for attempt := 0; attempt < 2; attempt++ {
		if err := sleep(ctx, s.opts.StatusDelay); err != nil {
			return nil, err
		}
		rctx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
		n, err := dev.Read(rctx, buf)
		cancel()
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if report, ok := status.Decode(buf[:n]); ok {
			return report, nil
		}
		s.logger.Debug("Short status read", zap.Int("attempt", attempt), zap.Int("bytes", n), zap.Error(err))
	}
	return nil, qlerr.ErrStatusUnavailable
}

// Disconnect releases the printer from any state and leaves the session
// Disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.dev != nil {
		err = s.dev.Close()
		s.dev = nil
		s.logger.Info("Disconnected", zap.Stringer("from", s.state), zap.Error(err))
	}
	s.state = Disconnected
	s.failure = nil
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
