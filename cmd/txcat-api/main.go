package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"txcat/internal/cli"
	apphttp "txcat/internal/http"
	logpkg "txcat/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(logpkg.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	p := cli.InitPredictor(ctx, logger, cfg)
	defer p.Close()

	srv := apphttp.NewServer(apphttp.Config{
		Addr:              ":" + cfg.Port,
		TopN:              cfg.TopCategories,
		CacheSize:         cfg.PredictionCacheSize,
		CacheTTL:          cfg.PredictionCacheTTL,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Logger:            logger,
	}, p)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", logpkg.FieldError, err)
		}
	}()

	logger.Info("Starting txcat API",
		"port", cfg.Port,
		logpkg.FieldModelVersion, p.ModelVersion(),
		"state", p.State().String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", logpkg.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
