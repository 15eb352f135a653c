package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"keyword-engine/internal/common/logging"
	"keyword-engine/internal/config"
	"keyword-engine/internal/server"
)

// Run is the main entry point: load config, build the app, serve until
// interrupted, then drain gracefully.
func Run() error {
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.NewZapLogger(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
		Name:  "keyword-engine",
	})
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", err)
		return err
	}

	a, err := New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", err)
		return err
	}
	defer a.Close()

	srv := server.New(a.Handler(), cfg.Port)
	errCh := srv.Start()
	logger.Info("server started", logging.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", err)
		return err
	case sig := <-quit:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", err)
		return err
	}

	logger.Info("server exited")
	return nil
}
