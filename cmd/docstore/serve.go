// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mobiletoly/go-docstore/docstore"
)

// newServerHandler mounts the read API, /metrics and tracing middleware.
func newServerHandler(store *docstore.Store, jwtAuth *docstore.JWTAuth, reg prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", docstore.NewHTTPHandlers(store, logger).Routes(jwtAuth))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return otelhttp.NewHandler(LoggingMiddleware(mux, logger), "docstore")
}

// LoggingMiddleware logs every request with its status and duration.
func LoggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func serve(ctx context.Context, cfg *Config, store *docstore.Store, reg prometheus.Gatherer, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "your-secret-key-change-in-production"
		logger.Warn("Using default JWT secret - change in production!")
	}
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newServerHandler(store, docstore.NewJWTAuth(cfg.JWTSecret), reg, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting document store server", "addr", httpServer.Addr)
		logger.Info("  GET /areas/{area}/changes         - Pull changes after a token")
		logger.Info("  GET /areas/{area}/documents/{id}  - Read one document")
		logger.Info("  GET /areas/{area}/count           - Count documents")
		logger.Info("  GET /metrics                      - Prometheus metrics")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}
