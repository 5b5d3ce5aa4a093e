package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	gameCfg, err := loadGameConfig(getEnv("GAME_CONFIG", "game.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load game config")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	services, err := setupServices(database, gameCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}
	defer services.Bus.Close()
	defer services.Consumer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go services.Manager.Start(ctx)
	go services.Settler.Run(ctx, services.Tracker.SettleJobs())
	go func() {
		if err := services.Consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
		}
	}()
	go func() {
		if err := services.Tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("round tracker stopped")
		}
	}()

	server := setupServer(services, gameCfg.adminToken())
	go func() {
		log.Info().Str("addr", server.Addr).Msg("game engine listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
