// Package server exposes the monitor, controller and health endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"hwc-server/internal/logger"
	"hwc-server/internal/model"
)

// Name is reported by GET /server/about
const Name = "server hwc (Hot Water Controller)"

const (
	DefaultPort = 8080

	defaultReadTimeout       = 15 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second

	maxBodyBytes = 64 << 10
)

// Controller is the part of the power controller used by the handlers
type Controller interface {
	Status() model.ControllerStatus
	SetParameter(ctx context.Context, p model.ControllerParameter) (model.ControllerStatus, error)
	SetSmartModeValues(v *model.SmartModeValues) error
}

// RecordSource provides the last monitor record
type RecordSource interface {
	LastRecord() *model.MonitorRecord
}

// Config contains the listener settings
type Config struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Addr returns host:port
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Address, fmt.Sprint(port))
}

// Deps are the collaborators of the handlers; Health and Metrics may be nil
type Deps struct {
	Controller Controller
	Monitor    RecordSource
	Auth       *PinAuthenticator
	Health     http.Handler
	Metrics    http.Handler
	Version    string
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(log logger.ILogger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is the HTTP front end
type Server struct {
	cfg  Config
	deps Deps
	log  logger.ILogger
	now  func() time.Time

	handler http.Handler

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// New creates the server and its routes
func New(cfg Config, deps Deps, opts ...Option) (*Server, error) {
	if deps.Controller == nil || deps.Monitor == nil {
		return nil, errors.New("server: controller and monitor are required")
	}
	if deps.Auth == nil {
		deps.Auth = &PinAuthenticator{}
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger.NewComponentLogger("http"),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.handler = s.withRequestID(s.routes())
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /server/about", s.handleAbout)
	mux.HandleFunc("GET /monitor", s.handleMonitor)
	mux.HandleFunc("GET /controller/status", s.handleControllerStatus)
	mux.HandleFunc("POST /controller/parameter", s.handleControllerParameter)
	if s.deps.Health != nil {
		mux.Handle("GET /health", s.deps.Health)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

// Handler returns the root handler including middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln in the background
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       orDefault(s.cfg.ReadTimeout, defaultReadTimeout),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      orDefault(s.cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:       orDefault(s.cfg.IdleTimeout, defaultIdleTimeout),
	}

	s.mu.Lock()
	if s.http != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.http = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.LogInfo("🌐 HTTP server listening on %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.LogError("HTTP server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits for active ones until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
