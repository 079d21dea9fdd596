// Package server exposes the print orchestrator over a raw TCP socket and
// an HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/printjob"
	"github.com/nixxel-company-limited/ql-usb-server/status"
	"go.uber.org/zap"
)

// Printer is the part of the orchestrator the surfaces use.
type Printer interface {
	Start(ctx context.Context, req label.Request) (*printjob.Job, error)
	Print(ctx context.Context, req label.Request) printjob.Result
	PrintRaw(ctx context.Context, data []byte) printjob.Result
	Prepare(ctx context.Context, req label.Request) ([]byte, error)
	Status(ctx context.Context) (*status.Report, bool)
	Reset() error
	FlushCache(ctx context.Context) error
}

const (
	// DefaultIdleTimeout ends a raw connection that stops sending.
	DefaultIdleTimeout = 30 * time.Second
	// MaxRawJob bounds the bytes accepted on one raw connection.
	MaxRawJob = 64 << 20
)

// Server is a TCP listener where every client connection carries one raw
// command stream. The stream is submitted as a single job once the client
// closes its side.
type Server struct {
	printer     Printer
	listener    net.Listener
	address     string
	idleTimeout time.Duration
	mu          sync.Mutex
	running     bool
	conns       map[net.Conn]struct{}
	wg          sync.WaitGroup
	logger      *zap.Logger
}

// New creates a new server instance
func New(printer Printer, address string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		printer:     printer,
		address:     address,
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
		logger:      logger.Named("raw"),
	}
}

// SetIdleTimeout changes how long a connection may stay silent. Zero
// disables the limit.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = d
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("Failed to start server", zap.String("address", s.address), zap.Error(err))
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.logger.Info("Server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.wg.Add(1)
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				s.logger.Debug("Accept loop stopped")
				return
			}
			s.logger.Warn("Error accepting connection", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// handleConnection reads one stream from a client and prints it
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	log := s.logger.With(zap.String("client", conn.RemoteAddr().String()))
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		log.Debug("Client disconnected")
	}()
	log.Debug("Client connected")

	s.mu.Lock()
	idle := s.idleTimeout
	s.mu.Unlock()

	var data []byte
	buf := make([]byte, 4096)
	for {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		if len(data) > MaxRawJob {
			log.Warn("Raw job too large, dropped", zap.Int("limit", MaxRawJob))
			return
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && len(data) > 0 && s.IsRunning() {
				// clients that never half-close end their job by going quiet
				break
			}
			log.Warn("Error reading from client", zap.Error(err))
			return
		}
	}

	if len(data) == 0 {
		return
	}
	log.Info("Received raw job", zap.Int("bytes", len(data)))

	res := s.printer.PrintRaw(context.Background(), data)
	if !res.Success {
		log.Error("Raw job failed", zap.String("job_id", res.JobID), zap.Error(res.Err))
		return
	}
	log.Info("Raw job printed", zap.String("job_id", res.JobID), zap.Int("bytes", res.Bytes))
}

// Stop closes the listener and any idle connections, then waits for
// running jobs to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info("Stopping server")
	s.running = false
	listener := s.listener
	for conn := range s.conns {
		// unblocks reads; a job already submitted is unaffected
		conn.SetReadDeadline(time.Unix(1, 0))
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	s.wg.Wait()
	s.logger.Info("Server stopped")
	return err
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured address, or the bound one once listening.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil && s.running {
		return s.listener.Addr().String()
	}
	return s.address
}
