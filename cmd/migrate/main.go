// Command migrate applies the embedded schema migrations to DATABASE_URL and exits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/codenamespivey12/MojoCode/internal/config"
	"github.com/codenamespivey12/MojoCode/internal/logger"
	"github.com/codenamespivey12/MojoCode/internal/storage"
)

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, storage.Options{DSN: cfg.Database.URL, Driver: cfg.Database.Driver, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := storage.Migrate(ctx, store, log.With().Str("component", "migrate").Logger()); err != nil {
		store.Close()
		log.Fatal().Err(err).Msg("migrate database")
	}
	store.Close()
	log.Info().Msg("database schema is up to date")
}
