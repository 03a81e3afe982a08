package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-reminders/internal/app"
	"github.com/go-reminders/internal/config"
	jwtinfra "github.com/go-reminders/internal/infrastructure/jwt"
	"github.com/go-reminders/internal/pkg/logger"
	transporthttp "github.com/go-reminders/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	if envErr != nil {
		log.Debug().Msg("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	// JWT verifier (optional in development: authenticated routes answer 401 without it).
	var verifier *jwtinfra.Verifier
	if v, err := jwtinfra.NewVerifier(cfg.JWTPublicKeyPath); err == nil {
		verifier = v
	} else if cfg.AppEnv == "production" {
		log.Fatal().Err(err).Msg("JWT verifier not available")
	} else {
		log.Warn().Err(err).Msg("JWT verifier not available")
	}

	deps := &transporthttp.Deps{
		Reminders: a.Reminders,
		Contacts:  a.Contacts,
		Checks:    a.Checks,
		Metrics:   a.Metrics,
		Log:       log,
	}
	if verifier != nil {
		deps.Verifier = verifier
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	if cfg.Worker.Embedded || cfg.Queue.Backend == "memory" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RunWorkers(ctx)
		}()
	}

	go func() {
		log.Info().Str("port", cfg.AppPort).Str("env", cfg.AppEnv).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	wg.Wait()
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("close")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
