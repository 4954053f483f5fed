package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/audio"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/client"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/config"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/gamestate"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/soundstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, err := soundstore.New(cfg.Sounds.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Sounds.CacheDir).Msg("failed to open sound cache")
	}
	if err := store.LoadLocal(cfg.Sounds.Dir); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Sounds.Dir).Msg("failed to load local sound library")
	}
	log.Info().Int("sounds", len(store.Owned())).Str("dir", cfg.Sounds.Dir).Msg("sound library loaded")

	var c *client.Client
	tracker := gamestate.NewTracker(cfg.Sounds.HeadshotPriority,
		func(ev events.Type, killCount, round int32) {
			c.OnGameEvent(ev, killCount, round)
		})
	c = client.New(client.Config{
		Addr:              cfg.ServerAddr(),
		UseTLS:            cfg.Network.TLS,
		TLSCA:             cfg.Network.TLSCA,
		Room:              cfg.Sounds.Room,
		Volume:            cfg.Sounds.Volume,
		SuspendWhileAlive: cfg.Transfers.SuspendWhileAlive,
	}, store, audio.NullPlayer{}, client.Options{
		IsAlive: tracker.IsAlive,
		Status:  func(s string) { log.Info().Msg(s) },
	})

	listener := gamestate.NewListener(cfg.Gamestate.ListenAddr, tracker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(ctx) })
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error { return watchTracker(ctx, tracker, c) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("sound client failed")
	}
	log.Info().Msg("sound client stopped")
}

// watchTracker relays the telemetry identity to the sync client.
// SetSteamID only re-announces on change, so a cheap poll is enough.
func watchTracker(ctx context.Context, tracker *gamestate.Tracker, c *client.Client) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.SetSteamID(tracker.SteamID())
		}
	}
}
