package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/api"
	"github.com/freezelink/freezelink/internal/cloud"
	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/coordinator"
)

func main() {
	var configPath = flag.String("config", "config/coordinator.yml", "path to configuration file")
	flag.Parse()

	// credentials may come from a local .env instead of the config file
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("config_path", *configPath).
		Str("cloud", cfg.Cloud.BaseURL).
		Str("broker", cfg.Broker.BrokerURL()).
		Msg("Coordinator starting")

	coord := coordinator.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rest := api.NewRESTServer(cfg.API, coord)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := rest.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("REST API server failed")
			cancel()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- coord.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case err := <-errCh:
		switch {
		case err == nil || errors.Is(err, context.Canceled):
		case errors.Is(err, cloud.ErrSessionExpired):
			log.Error().Msg("Cloud session expired and cannot be refreshed, re-authentication required")
			exitCode = 1
		default:
			log.Error().Err(err).Msg("Coordinator failed")
			exitCode = 1
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := rest.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("REST API shutdown")
	}

	log.Info().Msg("Coordinator stopped")
	os.Exit(exitCode)
}
