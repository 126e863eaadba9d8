// Package cli provides common CLI initialization utilities.
// This package consolidates the bootstrap shared by the txcat commands.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"txcat/internal/artifactstore"
	"txcat/internal/config"
	logpkg "txcat/internal/log"
	"txcat/internal/predictor"
	"txcat/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and installs it as
// the slog default. An unknown level falls back to info; config validation
// reports it afterwards.
func SetupLogger(component string) *logpkg.Logger {
	level, _ := logpkg.ParseLevel(os.Getenv("LOG_LEVEL"))
	cfg := logpkg.DefaultConfig()
	cfg.Level = level
	cfg.Component = component
	logger := logpkg.New(cfg)
	logpkg.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *logpkg.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", logpkg.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *logpkg.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", logpkg.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// InitPredictor builds the predictor from the configured rules and loads
// the model artifact. A missing or unusable artifact is not fatal: the
// predictor then serves the fallback rules. An invalid rules file is.
func InitPredictor(ctx context.Context, logger *logpkg.Logger, cfg *config.Config) *predictor.Predictor {
	rules := predictor.DefaultRules()
	if cfg.FallbackRulesFile != "" {
		var err error
		rules, err = predictor.LoadRules(cfg.FallbackRulesFile)
		if err != nil {
			logger.Error("Failed to load fallback rules", logpkg.FieldError, err, "path", cfg.FallbackRulesFile)
			os.Exit(1)
		}
	}

	p := predictor.New(predictor.Config{Rules: rules, Workers: cfg.PredictWorkers})

	var loader predictor.ArtifactLoader
	store, err := artifactstore.Open(cfg.ModelArtifactLocation)
	if err != nil {
		logger.Warn("Invalid model artifact location", logpkg.FieldError, err)
	} else {
		loader = store
	}

	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := p.Load(loadCtx, loader); err != nil {
		var lerr *predictor.ModelLoadError
		if !errors.As(err, &lerr) {
			logger.Error("Predictor initialization failed", logpkg.FieldError, err)
			os.Exit(1)
		}
		if errors.Is(err, artifactstore.ErrNotFound) {
			logger.Info("No trained model yet, serving fallback rules",
				logpkg.FieldLocation, cfg.ModelArtifactLocation)
		}
	}
	return p
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *logpkg.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
