package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hourglass-app/hourglass/internal/agent"
	"github.com/hourglass-app/hourglass/internal/config"
	"github.com/hourglass-app/hourglass/internal/creds"
	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(getEnv("HOURGLASS_CONFIG", "agent.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	token := os.Getenv("HOURGLASS_TOKEN")
	if token == "" {
		log.Fatal().Msg("HOURGLASS_TOKEN is required")
	}
	source := creds.Static{Cred: creds.Credential{Token: token, DeviceID: cfg.User.DeviceID}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timers, invitations, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer cleanup()

	service := agent.New(agent.Config{
		UserID:     cfg.User.ID,
		SocketURL:  cfg.Coordinator.SocketURL,
		APIBaseURL: cfg.Coordinator.APIURL,
	}, timers, invitations, source, nil)

	log.Info().
		Str("user_id", cfg.User.ID).
		Str("socket_url", cfg.Coordinator.SocketURL).
		Msg("starting agent")

	service.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	service.Stop()
	cancel()
	log.Info().Msg("agent shutdown complete")
}

// buildStores opens the Postgres-backed store when a database URL is
// configured, otherwise the in-memory one.
func buildStores(ctx context.Context, cfg *config.Config) (store.Store, store.InvitationStore, func(), error) {
	if cfg.Database.URL == "" {
		mem := store.NewMemory()
		return mem, mem, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return repo, repo, pool.Close, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
