package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tendant/simple-portfolio/pkg/portfolio/api"
	"github.com/tendant/simple-portfolio/pkg/portfolio/autosave"
	"github.com/tendant/simple-portfolio/pkg/portfolio/config"
	"github.com/tendant/simple-portfolio/pkg/portfolio/gc"
)

func main() {
	logger := newLogger(os.Getenv("ENVIRONMENT"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(config.WithDotEnv(), config.WithEnv())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := cfg.BuildService(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	collector, err := gc.New(rt.Repository, rt.BlobStore,
		gc.WithLogger(logger.With("component", "gc")),
		gc.WithMetrics(gc.NewMetrics(reg)))
	if err != nil {
		return err
	}
	scheduler, err := gc.Schedule(collector, cfg.GCSchedule, cfg.GCBatchSize)
	if err != nil {
		return err
	}
	scheduler.Start()

	coordinator := autosave.New(rt.Service,
		autosave.WithContentDelay(cfg.AutosaveDelay),
		autosave.WithSnapshotDelay(cfg.SnapshotDelay),
		autosave.WithLogger(logger.With("component", "autosave")))

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithAutosave(coordinator),
		api.WithCollector(collector, cfg.GCBatchSize),
		api.WithMetrics(api.NewMetrics(reg), reg),
	}
	if rt.Signer != nil {
		opts = append(opts, api.WithSignedUploads(rt.Signer, rt.BlobStore))
	}
	if d, ok := rt.BlobStore.(api.Downloader); ok && rt.StorageType != config.StorageS3 {
		if u, err := url.Parse(cfg.PublicAssetBaseURL); err == nil {
			opts = append(opts, api.WithMedia(u.Path, d))
		}
	}
	handler := api.New(rt.Service, api.NewTokenAuth(cfg.AuthJWTSecret), opts...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portfolio server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"storage", rt.StorageType,
			"gc_schedule", cfg.GCSchedule)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-scheduler.Stop().Done()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pending saves did not finish", "err", err)
	}
	logger.Info("server exited")
	return nil
}
