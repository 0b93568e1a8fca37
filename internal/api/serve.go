package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/grovekb/grove/internal/kb"
)

func (h *Handler) serveMux() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if err := h.kb.Index().Check(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/api", NewRouter(h.kb))
	return r
}

// Serve runs the read-only HTTP server together with the store watcher
// until ctx is cancelled or a termination signal arrives. The watcher keeps
// the index in step with external edits while the server is up.
func Serve(ctx context.Context, k *kb.KnowledgeBase, addr string, logger *slog.Logger) error {
	if err := k.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	h := NewHandler(k)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: h.serveMux(),
	}

	logger.Info("server starting",
		slog.String("address", addr),
		slog.String("store", k.Root()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return k.Watch(gCtx, nil)
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
