package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/config"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/server"
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

	if cfg.Network.TLS && cfg.Network.TLSCert == "" {
		log.Fatal().Msg("tls enabled but no certificate configured")
	}

	store, err := soundstore.New(cfg.Sounds.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Sounds.CacheDir).Msg("failed to open sound cache")
	}

	srv := server.New(server.Config{
		Addr:    cfg.ServerAddr(),
		TLSCert: cfg.Network.TLSCert,
		TLSKey:  cfg.Network.TLSKey,
	}, store, nil)

	ln, err := srv.Listen()
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ServerAddr()).Msg("failed to listen")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatal().Err(err).Msg("sound server failed")
	}
	log.Info().Msg("sound server stopped")
}
