package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/pipeline"
	"github.com/Tyrowin/relaychat/internal/presence"
	"github.com/Tyrowin/relaychat/internal/push"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
	"github.com/Tyrowin/relaychat/internal/store/remote"
)

const shutdownTimeout = 30 * time.Second

func main() {
	config := server.NewConfigFromEnv()
	logger := newLogger(config)

	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	server.SetConfig(config)

	ctx := context.Background()

	files, err := store.NewFileStore(config.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot open data directory")
	}
	checks := map[string]store.Pinger{"files": files}

	var messages store.MessageStore = files
	if config.Storage == server.StorageGitHub {
		cipher, err := remote.NewCipher(config.GitHub.Secret)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid encryption secret")
		}
		client := remote.NewClient(remote.ClientConfig{
			APIBase: config.GitHub.APIBase,
			Token:   config.GitHub.Token,
			Repo:    config.GitHub.Repo,
			Branch:  config.GitHub.Branch,
		})
		history := remote.NewStore(client, cipher, config.GitHub.DataPath, config.GitHub.ShardSize, logger)
		messages = history
		checks["github"] = history
		logger.Info().Str("repo", config.GitHub.Repo).Str("branch", config.GitHub.Branch).Msg("storing history in GitHub")
	}

	var presenceStore store.PresenceStore = files
	if config.RedisURL != "" {
		redisPresence, err := store.NewRedisPresence(ctx, config.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer func() { _ = redisPresence.Close() }()
		presenceStore = redisPresence
		checks["redis"] = redisPresence
		logger.Info().Msg("connected to Redis")
	}

	keys, created, err := push.LoadOrCreateKeys(files.Path(store.VAPIDFile))
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load VAPID keys")
	}
	if created {
		logger.Info().Msg("generated new VAPID key pair")
	}

	tracker := presence.NewTracker(presenceStore)
	p := pipeline.New(pipeline.Deps{
		Messages:      messages,
		Subscriptions: files,
		Presence:      tracker,
		Sender:        push.NewWebPush(keys, config.VAPIDSubject, config.PushTTL),
		Logger:        logger,
	})

	srv := server.New(server.Options{
		Logger:         logger,
		Pipeline:       p,
		Messages:       messages,
		Subscriptions:  files,
		Presence:       tracker,
		VAPIDPublicKey: keys.PublicKey,
		Checks:         checks,
	})
	srv.Start()

	httpServer := server.CreateServer(config.Port, srv.SetupRoutes())

	go func() {
		logger.Info().Str("env", config.Env).Str("storage", config.Storage).Msg("starting relaychat server")
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("hub did not drain cleanly")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(config *server.Config) zerolog.Logger {
	if config.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
