// Package server assembles the HTTP stack around the delivery gateway and
// owns listener lifecycle, including graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"videoflix/internal/api"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
)

// DefaultShutdownTimeout bounds graceful shutdown when the context is
// cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// DefaultReadTimeout bounds how long the server waits for a full request.
const DefaultReadTimeout = 30 * time.Second

type Config struct {
	Addr            string
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Ready is closed once the listener is accepting connections.
	Ready chan<- struct{}
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	shutdown   time.Duration
	ready      chan<- struct{}
}

// New composes the middleware chain around the gateway router: request ID
// assignment, request logging, then metrics capture.
func New(handler *api.Handler, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	var chained http.Handler = handler.Router()
	chained = metrics.HTTPMiddleware(recorder, chained)
	chained = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(chained)
	chained = requestIDMiddleware(logger, chained)

	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = DefaultShutdownTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           chained,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:   logging.WithComponent(logger, "server"),
		shutdown: shutdown,
		ready:    cfg.Ready,
	}
}

// Run starts the listener and blocks until the context is cancelled or the
// server fails. Cancellation triggers a bounded graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "addr", ln.Addr().String())
	if s.ready != nil {
		close(s.ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
