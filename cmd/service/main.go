package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/veriface/internal/app"
	"github.com/dropDatabas3/veriface/internal/config"
	httpx "github.com/dropDatabas3/veriface/internal/http"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
)

func main() {
	flagConfig := flag.String("config", getenv("CONFIG_PATH", ""), "ruta del config.yaml (opcional)")
	flagEnvFile := flag.String("env-file", ".env", "ruta del archivo .env")
	flag.Parse()

	// .env es best-effort: en prod las vars vienen del entorno real.
	if *flagEnvFile != "" {
		if err := godotenv.Load(*flagEnvFile); err == nil {
			logger.L().Debug("env file loaded", logger.String("path", *flagEnvFile))
		}
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		logger.L().Fatal("invalid configuration", logger.Err(err))
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "veriface",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal("failed to build application", logger.Err(err))
	}

	srv := httpx.NewServer(cfg.Server.Addr, container.Handler)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("service started",
		logger.String("addr", cfg.Server.Addr),
		logger.String("env", cfg.App.Env),
		logger.String("storage", cfg.Storage.Driver),
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", logger.Err(err))
	}
	container.Shutdown(shutdownCtx)
	log.Info("service stopped")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
