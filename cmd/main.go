package main

import (
	"context"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/pflag"

	"github.com/pelusa-v/pelusa-broker/internal/chat"
	"github.com/pelusa-v/pelusa-broker/internal/config"
	"github.com/pelusa-v/pelusa-broker/internal/handlers"
	"github.com/pelusa-v/pelusa-broker/internal/log"
	"github.com/pelusa-v/pelusa-broker/internal/mirror"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "directory holding config.yaml (defaults to . and ./config)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := log.L()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = "pelusa-broker"
	}
	log.Init(cfg.Log)
	logger := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var presence chat.PresenceMirror
	var redisMirror *mirror.RedisMirror
	if cfg.Mirror.Enabled() {
		redisMirror, err = mirror.NewRedisMirror(ctx, cfg.Mirror)
		if err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.Mirror.RedisAddress).Msg("presence mirror unavailable")
		}
		presence = redisMirror
		logger.Info().Str("channel", cfg.Mirror.Channel).Msg("presence mirror enabled")
	}

	manager := chat.NewManager(cfg.Broker, logger, presence)
	go manager.Run(ctx)

	app := handlers.NewApp(handlers.New(manager, cfg.WebSocket), logger, cfg.Server.StaticDir)

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr()).Msg("broker listening")
		if err := app.Listen(cfg.Server.Addr()); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return app.ShutdownWithContext(ctx)
			},
			"broker": func(ctx context.Context) error {
				cancel()
				select {
				case <-manager.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			"mirror": func(context.Context) error {
				if redisMirror == nil {
					return nil
				}
				return redisMirror.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("broker exited")
	os.Exit(exitCode)
}
