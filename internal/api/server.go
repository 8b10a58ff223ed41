package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/piiscan/internal/api/handlers"
	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/scan"
	"github.com/eargollo/piiscan/internal/scheduler"
	"github.com/eargollo/piiscan/internal/store"
)

// Deps are the components the HTTP surface reads from. Sched may be nil when
// no schedule is configured.
type Deps struct {
	Store       *store.Store
	Manager     *scan.Manager
	Checkpoints *checkpoint.Manager
	Sched       *scheduler.Scheduler
	Version     string
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr    string
	srv     *http.Server
	handler http.Handler
}

// New wires all routes and returns a Server ready to Run. Runs started
// through the API are parented on baseCtx.
func New(baseCtx context.Context, addr string, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{
		Store:       deps.Store,
		Manager:     deps.Manager,
		Checkpoints: deps.Checkpoints,
		Sched:       deps.Sched,
		Version:     deps.Version,
	}
	scansH := &handlers.ScansHandler{Store: deps.Store, Manager: deps.Manager, BaseCtx: baseCtx}
	filesH := &handlers.FilesHandler{Store: deps.Store}
	checkpointsH := &handlers.CheckpointsHandler{Checkpoints: deps.Checkpoints}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Get("/scans/{id}", scansH.Get)
		r.Delete("/scans/current", scansH.Cancel)

		r.Get("/files", filesH.List)
		r.Get("/files/{hash16}/entities", filesH.Details)

		r.Get("/checkpoints", checkpointsH.ServeHTTP)
	})

	return &Server{
		addr:    addr,
		srv:     &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second},
		handler: r,
	}
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
