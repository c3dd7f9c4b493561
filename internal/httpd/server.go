package httpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// defaultMaxRequestBytes bounds per-connection buffering against
	// unbounded or malicious bodies.
	defaultMaxRequestBytes = 50 << 20

	defaultIdleTimeout = 30 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithMaxRequestSize sets the per-connection buffer ceiling in bytes.
// A request that grows past it is answered with 413 and the connection
// is closed without running any handler.
func WithMaxRequestSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestBytes = n
		}
	}
}

// WithIdleTimeout sets how long a connection may sit without delivering
// data before it is forcibly closed. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithAcceptRate throttles the accept loop to perSecond connections with
// the given burst.
func WithAcceptRate(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Server is an HTTP/1.1 server over raw TCP connections.
//
// Routes are registered before Listen and are immutable afterwards; the
// route table is the only state shared between connections and is
// read-only while serving. Each accepted connection is handled by its own
// goroutine and serves exactly one request/response cycle.
type Server struct {
	log    *log.Logger
	routes routeTable

	maxRequestBytes int
	idleTimeout     time.Duration
	limiter         *rate.Limiter

	mu       sync.Mutex
	ln       net.Listener
	started  bool
	cancel   context.CancelFunc
	ctx      context.Context
	inflight sync.WaitGroup
}

// NewServer creates a server with the default limits: a 50 MB request
// ceiling and a 30 second idle timeout.
func NewServer(opts ...Option) *Server {
	s := &Server{
		maxRequestBytes: defaultMaxRequestBytes,
		idleTimeout:     defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	}
	return s
}

// Handle registers a handler for a method and path pattern. Patterns are
// literal segments or :name parameters. Registration after Listen is
// ignored with a warning; the route table must be complete before the
// server starts.
func (s *Server) Handle(m Method, pattern string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn("route registered after Listen is ignored", "method", m.String(), "pattern", pattern)
		return
	}
	if m >= methodCount {
		s.log.Warn("unknown method rejected at registration", "pattern", pattern)
		return
	}
	s.routes.add(m, pattern, h)
}

// Get registers a GET route.
func (s *Server) Get(pattern string, h Handler) { s.Handle(MethodGet, pattern, h) }

// Post registers a POST route.
func (s *Server) Post(pattern string, h Handler) { s.Handle(MethodPost, pattern, h) }

// Put registers a PUT route.
func (s *Server) Put(pattern string, h Handler) { s.Handle(MethodPut, pattern, h) }

// Delete registers a DELETE route.
func (s *Server) Delete(pattern string, h Handler) { s.Handle(MethodDelete, pattern, h) }

// Patch registers a PATCH route.
func (s *Server) Patch(pattern string, h Handler) { s.Handle(MethodPatch, pattern, h) }

// Options registers an OPTIONS route.
func (s *Server) Options(pattern string, h Handler) { s.Handle(MethodOptions, pattern, h) }

// Head registers a HEAD route.
func (s *Server) Head(pattern string, h Handler) { s.Handle(MethodHead, pattern, h) }

// Listen binds addr and starts accepting connections. It returns once the
// listener is ready; serving happens on background goroutines.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("httpd: server already listening")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.ln = ln
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.log.Info("listening", "addr", ln.Addr().String())
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting connections and waits for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	ln, cancel := s.ln, s.cancel
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	cancel()
	err := ln.Close()
	s.inflight.Wait()
	s.log.Info("server closed")
	return err
}

func (s *Server) acceptLoop() {
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		rwc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.ServeConn(rwc)
		}()
	}
}

// ServeConn handles a single already-established connection. The accept
// loop runs it per accepted socket; tests drive it with in-memory pipes.
func (s *Server) ServeConn(rwc net.Conn) {
	c := &conn{
		srv: s,
		rwc: rwc,
		log: s.log.With("conn", uuid.NewString()[:8]),
	}
	c.serve()
}
