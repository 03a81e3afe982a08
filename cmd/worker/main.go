package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-reminders/internal/app"
	"github.com/go-reminders/internal/config"
	"github.com/go-reminders/internal/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.AppEnv, cfg.LogLevel).With().Str("process", "worker").Logger()
	if envErr != nil {
		log.Debug().Msg("no .env file found, reading from environment")
	}
	if cfg.Queue.Backend == "memory" && !cfg.Queue.Disabled {
		log.Fatal().Msg("the memory queue only works with the embedded worker (WORKER_EMBEDDED=true on the API)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	var metricsSrv *http.Server
	if cfg.Worker.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener")
			}
		}()
	}

	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker starting")
	a.RunWorkers(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("close")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}
