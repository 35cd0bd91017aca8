package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/codenamespivey12/MojoCode/internal/api"
	"github.com/codenamespivey12/MojoCode/internal/auth"
	"github.com/codenamespivey12/MojoCode/internal/config"
	"github.com/codenamespivey12/MojoCode/internal/logger"
	"github.com/codenamespivey12/MojoCode/internal/ratelimit"
	"github.com/codenamespivey12/MojoCode/internal/redis"
	"github.com/codenamespivey12/MojoCode/internal/service/conversation"
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

	store, err := storage.Open(ctx, storage.Options{
		DSN:             cfg.Database.URL,
		Driver:          cfg.Database.Driver,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Logger:          log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, store, log.With().Str("component", "migrate").Logger()); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	health := map[string]api.Pinger{"database": store}
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("create redis client")
		}
		defer rdb.Close()
		health["redis"] = rdb
	}

	validator, err := auth.NewValidator(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init auth")
	}
	defer validator.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	service := conversation.NewService(store, conversation.WithLogger(log))
	router := api.NewRouter(api.RouterConfig{
		Handler:        api.NewHandler(service, log.With().Str("component", "api").Logger()),
		Validator:      validator,
		LimitStore:     ratelimit.NewStore(cfg.RateLimit, rdb),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         health,
		Logger:         log.With().Str("component", "http").Logger(),
	})

	if err := api.NewServer(cfg.Server.Address, router, cfg.Server.ShutdownTimeout, log).Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
