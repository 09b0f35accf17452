// Package server constructs, starts, and stops the wschat service with
// helpers that apply sensible production defaults.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrAlreadyRunning is returned by Start when the server is starting or running.
	ErrAlreadyRunning = errors.New("server is already running")
	// ErrNotRunning is returned by Stop when the server is not running.
	ErrNotRunning = errors.New("server is not running")
)

// State is the lifecycle state of a Server.
type State int

const (
	// Stopped is the initial and final state.
	Stopped State = iota
	// Starting means the listener is being bound.
	Starting
	// Running means the accept loop is live.
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Server ties the Manager to an HTTP listener that upgrades requests to
// WebSocket connections.
type Server struct {
	cfg      *Config
	manager  *Manager
	logger   *log.Logger
	upgrader websocket.Upgrader

	// pumpsMu orders pumps.Add against the Wait in Stop.
	pumpsMu  sync.Mutex
	draining bool
	pumps    sync.WaitGroup

	mu         sync.Mutex
	state      State
	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}
}

// New validates cfg and builds a stopped Server. Configuration errors are
// returned and no Server is created.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := *cfg
	c.Admins = append([]AdminCredential(nil), cfg.Admins...)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	identities, err := NewIdentityRegistry(c.Admins)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := buildOptions(opts)
	s := &Server{
		cfg:     &c,
		manager: NewManager(&c, identities, opts...),
		logger:  o.logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: c.HandshakeTimeout,
		// The manager checks the origin so that a mismatch closes the
		// upgraded connection instead of failing the handshake.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s, nil
}

// Manager returns the session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start binds the listener and launches the accept loop. It returns once the
// listener is bound, with ErrAlreadyRunning if the server is not stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Starting
	s.mu.Unlock()

	s.manager.open()
	s.pumpsMu.Lock()
	s.draining = false
	s.pumpsMu.Unlock()

	listener, err := s.listen()
	if err != nil {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		return err
	}

	httpServer := CreateServer(s.cfg.Addr(), s.SetupRoutes())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	s.mu.Lock()
	s.httpServer = httpServer
	s.listener = listener
	s.serveDone = serveDone
	s.state = Running
	s.mu.Unlock()

	s.logger.Printf("Server listening on %s", listener.Addr())
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	if !s.cfg.TLS.Enabled() {
		return listener, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.cfg.TLS.Config != nil {
		tlsConfig = s.cfg.TLS.Config.Clone()
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
	return tls.NewListener(listener, tlsConfig), nil
}

// Stop clears the session table without notifying anyone, shuts the HTTP
// server down and closes every connection that was in the table. Handlers
// still in flight are refused admission. It returns ErrNotRunning unless
// the server is running.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return ErrNotRunning
	}

	s.logger.Println("Shutting down server...")
	sessions := s.manager.close()

	shutdownErr := s.httpServer.Shutdown(ctx)
	<-s.serveDone

	for _, session := range sessions {
		s.manager.closeConn(session.conn, session.RemoteAddr)
	}
	s.logger.Printf("Closed %d client connections", len(sessions))

	s.pumpsMu.Lock()
	s.draining = true
	s.pumpsMu.Unlock()
	pumpsErr := s.waitForPumps(ctx)

	s.httpServer = nil
	s.listener = nil
	s.serveDone = nil
	s.state = Stopped

	if shutdownErr != nil {
		return fmt.Errorf("shutdown http server: %w", shutdownErr)
	}
	return pumpsErr
}

// waitForPumps waits for every connection goroutine to finish or for ctx to end.
func (s *Server) waitForPumps(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Println("Server shutdown completed successfully")
		return nil
	case <-ctx.Done():
		s.logger.Println("Shutdown timeout reached, some connections may still be open")
		return ctx.Err()
	}
}

// track runs fn as a connection goroutine. It reports false, without
// running fn, once Stop has started waiting for the pumps.
func (s *Server) track(fn func()) bool {
	s.pumpsMu.Lock()
	defer s.pumpsMu.Unlock()
	if s.draining {
		return false
	}
	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()
		fn()
	}()
	return true
}
