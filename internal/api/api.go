// Package api provides HTTP handlers and the main API server logic for LeadPipe.
//
// It exposes RESTful endpoints the dashboard UI uses to drive conversation
// sessions: sending messages, triggering AI replies, configuring the reply
// scheduler, and inspecting booking flow state.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// ShutdownTimeout bounds graceful server shutdown.
const ShutdownTimeout = 10 * time.Second

// Server hosts the LeadPipe HTTP API.
type Server struct {
	manager  *session.Manager
	registry *store.BookingFlowRegistry
	audit    store.AuditRepo
	timer    *flow.SimpleTimer
}

// NewServer creates the API server with its collaborators.
func NewServer(manager *session.Manager, registry *store.BookingFlowRegistry, audit store.AuditRepo, timer *flow.SimpleTimer) *Server {
	return &Server{
		manager:  manager,
		registry: registry,
		audit:    audit,
		timer:    timer,
	}
}

// Handler builds the chi router for the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/sessions/{leadID}", func(r chi.Router) {
		r.Post("/open", s.openSessionHandler)
		r.Delete("/", s.closeSessionHandler)
		r.Get("/state", s.renderStateHandler)
		r.Post("/messages", s.sendMessageHandler)
		r.Post("/quick-reply", s.quickReplyHandler)
		r.Post("/ai-reply", s.aiReplyHandler)
		r.Post("/mode", s.setModeHandler)
		r.Post("/delay", s.setDelayHandler)
		r.Post("/uploads", s.uploadOutcomeHandler)
		r.Route("/booking", func(r chi.Router) {
			r.Post("/dismiss", s.dismissBookingHandler)
			r.Post("/reset", s.resetBookingHandler)
			r.Post("/{index}", s.patchBookingHandler)
			r.Get("/debug", s.bookingDebugHandler)
		})
	})
	r.Get("/registry", s.registrySnapshotHandler)
	r.Get("/timers", s.timersHandler)

	return r
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully and tears down all open sessions.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LeadPipe API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	slog.Info("Shutting down LeadPipe API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", "error", err)
		return err
	}
	s.manager.CloseAll()
	if s.timer != nil {
		s.timer.Stop()
	}
	return nil
}
