package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bean-relay/internal/app"
	"bean-relay/internal/config"
	"bean-relay/internal/infrastructure/logger"
	"bean-relay/internal/upstream/redisbridge"
	"bean-relay/internal/upstream/twitch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bean-relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	if cfg.Log.Debug {
		log.WithFields(logger.Fields(cfg.Summary())).Debug("Loaded configuration")
	}

	var opts []app.Option
	if !cfg.Relay.RelayOnly {
		opts = append(opts, app.WithUpstream(twitch.NewSubscriber(twitch.Config{
			ClientID:      cfg.Twitch.AppID,
			ClientSecret:  cfg.Twitch.AppSecret,
			TargetChannel: cfg.Twitch.TargetChannel,
			TokenFile:     cfg.Twitch.TokenFile,
			RedirectURL:   cfg.Twitch.RedirectURL,
		}, log)))
	}
	if cfg.Redis.URL != "" {
		bridge, err := redisbridge.New(cfg.Redis.URL, cfg.Redis.Channel, log)
		if err != nil {
			return err
		}
		opts = append(opts, app.WithSource(bridge))
	}

	sctx := WithSignal(context.Background())
	return app.New(cfg, log, opts...).Run(sctx)
}

func newLogger(cfg *config.Config) logger.Logger {
	lCfg := logger.NewDefaultConfig()
	lCfg.Level = logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.Debug {
		lCfg.Level = logger.LevelDebug
	}
	if cfg.Log.Format != "" {
		lCfg.Format = cfg.Log.Format
	}
	if cfg.Log.Output != "" {
		lCfg.Output = cfg.Log.Output
	}
	lCfg.FilePath = cfg.Log.File
	return logger.NewLogrusLogger(lCfg)
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
