package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/dbconfig"
	"github.com/curiohall/curio/internal/outbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := setupDatabase(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	redisClient, err := setupRedis(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	nc, err := setupNATS()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	services := setupServices(ctx, pool, redisClient, nc, cfg.Game)

	// Outbox relay: LISTEN/NOTIFY wakeups, JetStream delivery
	publisher, err := outbox.NewNATSPublisher(nc, outbox.DefaultNATSPublisherConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox publisher")
	}
	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbCfg.DSN()
	listener, err := outbox.NewListener(services.OutboxRepo, publisher, listenerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox listener")
	}

	gateway, err := setupGateway(services)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create room gateway")
	}

	// Background loops
	go services.Coordinator.Run(ctx)
	go services.Sweeper.Run(ctx)
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox listener failed")
		}
	}()
	go func() {
		if err := gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("room gateway failed")
		}
	}()

	server := setupServer(services, gateway)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()

	// Give background loops time to drain
	time.Sleep(2 * time.Second)

	log.Info().Msg("shutdown complete")
}
