// Package server exposes the HTTP API the scheduler and operator tooling
// drive: job admission, batch execution, operator actions, and status.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"caravan/internal/batch"
	"caravan/internal/config"
	"caravan/internal/jobctl"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/notifications"
	"caravan/internal/trigger"
)

// Server is the HTTP API front end of one pipeline instance.
type Server struct {
	bind      string
	token     string
	phase     string
	store     *jobstore.Store
	processor *batch.Processor
	control   *jobctl.Controller
	notifier  notifications.Service
	scheduler trigger.Scheduler
	logger    *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New assembles the API server and its routes.
func New(cfg *config.Config, store *jobstore.Store, processor *batch.Processor, control *jobctl.Controller, notifier notifications.Service, scheduler trigger.Scheduler, logger *slog.Logger) (*Server, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("server: config and store are required")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("server: api bind address is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if scheduler == nil {
		scheduler = trigger.NewScheduler(cfg)
	}

	srv := &Server{
		bind:      bind,
		token:     strings.TrimSpace(cfg.Paths.APIToken),
		phase:     cfg.Pipeline.Phase,
		store:     store,
		processor: processor,
		control:   control,
		notifier:  notifier,
		scheduler: scheduler,
		logger:    logger.With(logging.String(logging.FieldComponent, "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(srv.token, srv.handleStatus))
	mux.HandleFunc("/api/jobs", authMiddleware(srv.token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(srv.token, srv.handleJob))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Handler exposes the configured routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address once the server has started.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
