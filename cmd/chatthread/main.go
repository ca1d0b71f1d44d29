package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatthread/internal/config"
	"chatthread/internal/constants"
	"chatthread/internal/database"
	"chatthread/internal/models"
	"chatthread/internal/retry"
	"chatthread/internal/service"
	"chatthread/internal/tracing"
	"chatthread/pkg/backend"
	"chatthread/pkg/backend/memory"
	"chatthread/pkg/backend/redisstore"
	"chatthread/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message content)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatthread %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	config.LoadDotEnv()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatthread")

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceVersion = Version
	tracingManager := tracing.NewTracingManager(tracingCfg, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Warnf("Failed to close backend: %v", err)
		}
	}()

	sessions := service.NewSessionManager(store.client, store.cursors, logger, cfg.Thread.PageSize)

	server := NewServer(cfg, sessions, logger, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		if closeErr := sessions.CloseAll(context.Background()); closeErr != nil {
			logger.Warnf("Failed to persist thread cursors: %v", closeErr)
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if err := sessions.CloseAll(shutdownCtx); err != nil {
		logger.Warnf("Failed to persist thread cursors: %v", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", shutdownErr)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// loadConfig reads the config file, falling back to defaults plus
// environment when the file does not exist.
func loadConfig(path string, logger *logrus.Logger) (*models.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.WithField("path", path).Info("Config file not found, using defaults and environment")
		return config.FromEnvironment()
	}
	return cfg, err
}

func configureLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message content will be logged")
		return
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// openedBackend is the realtime store selected by configuration plus the
// cursor store that goes with it.
type openedBackend struct {
	client  backend.Client
	cursors service.CursorStore
	close   func() error
}

func openBackend(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*openedBackend, error) {
	backoff := retry.NewBackoff(retry.ConfigFromModel(cfg.Retry)).
		OnRetry(func(attempt int, delay time.Duration, err error) {
			logger.WithFields(logrus.Fields{
				"backend": cfg.Backend.Type,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err,
			}).Warn("Backend not ready, retrying")
		})

	switch cfg.Backend.Type {
	case models.BackendSQLite:
		var db *database.Database
		err := backoff.Retry(ctx, func() error {
			var initErr error
			db, initErr = database.New(cfg.Database.Path)
			return initErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
		}
		db.SetLogger(logger)
		db.SetPollInterval(time.Duration(cfg.Backend.PollIntervalMs) * time.Millisecond)
		logger.WithField("path", cfg.Database.Path).Info("Using SQLite backend")
		return &openedBackend{client: guard(db, cfg.Backend.Type, logger), cursors: db, close: db.Close}, nil

	case models.BackendRedis:
		var store *redisstore.Store
		err := backoff.Retry(ctx, func() error {
			var initErr error
			store, initErr = redisstore.New(ctx, cfg.Backend.RedisURL, logger)
			return initErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis after retries: %w", err)
		}
		logger.Info("Using Redis backend")
		return &openedBackend{client: guard(store, cfg.Backend.Type, logger), cursors: service.NewMemoryCursorStore(), close: store.Close}, nil

	default:
		store := memory.New()
		logger.Info("Using in-memory backend")
		return &openedBackend{client: store, cursors: service.NewMemoryCursorStore(), close: store.Close}, nil
	}
}

// guard puts a circuit breaker in front of the persistent stores.
func guard(client backend.Client, name string, logger *logrus.Logger) backend.Client {
	return backend.Guard(client, circuitbreaker.New(name, circuitbreaker.Options{Logger: logger}))
}
