package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailgrant/mailgrant/internal/broker"
)

// Timeouts for the API server.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
)

// Config holds configuration for the API server.
type Config struct {
	// Addr is the address to bind to (e.g., ":8080").
	Addr string

	// Broker handles all operations behind the HTTP surface.
	Broker *broker.Broker

	// Logger receives request and lifecycle logs.
	Logger *slog.Logger
}

// Server is the broker's public HTTP API.
type Server struct {
	addr       string
	broker     *broker.Broker
	logger     *slog.Logger
	health     *HealthChecker
	httpServer *http.Server
}

// New creates a Server. The health checker starts in the ready state.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   cfg.Addr,
		broker: cfg.Broker,
		logger: logger,
		health: NewHealthChecker(),
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	s.health.RegisterHealthEndpoints(r)

	r.Get("/authorize", s.handleAuthorize)
	r.Post("/exchange_code", s.handleExchangeCode)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/me", s.handleMe)
		r.Post("/send_email", s.handleSendEmail)
		r.Get("/list_emails", s.handleListEmails)
		r.Get("/get_email/{id}", s.handleGetEmail)
		r.Get("/get_parsed_email/{id}", s.handleGetParsedEmail)
		r.Get("/get_attachment/{messageID}/{attachmentID}", s.handleGetAttachment)
	})

	return r
}

// Start runs the server until it is shut down or fails.
func (s *Server) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal runs the server and closes ready once the
// listener is bound, so callers can distinguish startup failures from
// runtime ones.
func (s *Server) StartWithReadySignal(ready chan<- struct{}) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("api server listening", "addr", ln.Addr().String())
	if ready != nil {
		close(ready)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}

// Health exposes the health checker, e.g. to flip readiness.
func (s *Server) Health() *HealthChecker {
	return s.health
}
