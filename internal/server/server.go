// Package server exposes the run store over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Gracecr/sacred/internal/ingest"
	"github.com/Gracecr/sacred/internal/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

// Server serves the run store API.
type Server struct {
	store    *state.Store
	port     int
	logger   *slog.Logger
	notifier *Notifier

	watchDir string
	debounce time.Duration
	ingester *ingest.Ingester
}

// Config holds configuration for the API server.
type Config struct {
	Store  *state.Store
	Port   int
	Logger *slog.Logger
	// WatchDir, when set, is watched for new event logs which are ingested
	// and announced on /api/events.
	WatchDir string
	Debounce time.Duration
	// Observers adds observers to every ingested log.
	Observers ingest.ExtraObservers
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		store:    cfg.Store,
		port:     cfg.Port,
		logger:   logger,
		notifier: NewNotifier(),
		watchDir: cfg.WatchDir,
		debounce: cfg.Debounce,
	}
	if cfg.WatchDir != "" {
		s.ingester = ingest.New(cfg.Store, logger, cfg.Observers)
	}
	return s
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Handler returns the HTTP routes of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.requestLogger,
	)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{token}", s.handleGetRun)
			r.Get("/{token}/metrics", s.handleRunMetrics)
		})
		r.Get("/artifacts/{id}", s.handleArtifact)
	})
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting API server", slog.String("addr", fmt.Sprintf("http://localhost:%d", s.port)))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.ingester != nil {
		eg.Go(func() error {
			return s.ingester.Watch(egctx, s.watchDir, s.debounce, func(res *ingest.Result) {
				s.notifier.Broadcast(res.Token)
			})
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
