package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simmgate-aigateway/internal/dispatch"
	"simmgate-aigateway/internal/handlers"
	"simmgate-aigateway/internal/httpserver"
	"simmgate-aigateway/internal/metrics"
)

const sweepInterval = 5 * time.Minute

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(parent context.Context, a *app) error {
	logger := a.logger
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Metrics -----
	metrics.Register()

	// ----- Rate limiter -----
	limiter := a.newLimiter()
	go limiter.RunSweeper(ctx, sweepInterval)

	// ----- Plugins -----
	registry, err := a.buildRegistry(limiter)
	if err != nil {
		return err
	}

	// tables and buckets must exist before the first request
	provisionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = a.manager.EnsurePartitions(provisionCtx, registry.Names()...)
	cancel()
	if err != nil {
		logger.Error("cache provisioning failed", zap.Error(err))
		return err
	}

	dispatcher := dispatch.New(dispatch.Options{
		Registry:           registry,
		Cache:              a.manager,
		ForceRefreshHeader: cfg.Cache.ForceRefreshHeader,
		Checks:             a.checks(),
	})

	verifier, err := a.verifier()
	if err != nil {
		return err
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewPluginHandler(dispatcher), httpserver.Options{
		Verifier:           verifier,
		RequestTimeout:     cfg.Server.RequestTimeout,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		CORSOrigins:        cfg.Server.CORSOrigins,
		ForceRefreshHeader: cfg.Cache.ForceRefreshHeader,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		// image generation can take minutes; let the per-request timeout answer first
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("version", version),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
