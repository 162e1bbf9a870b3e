package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arl/statsviz"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// serveDebug exposes live runtime charts of a long running watch on addr
// until ctx is done.
func (a *app) serveDebug(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	if err := statsviz.Register(mux); err != nil {
		return fmt.Errorf("register statsviz: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "debug", otelhttp.WithTracerProvider(a.providers.Tracer)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		a.log.Info(ctx, "Debug server listening", "addr", addr, "path", "/debug/statsviz/")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(ctx, "Debug server stopped", "error", err)
		}
	}()
	return nil
}
