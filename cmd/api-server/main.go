package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/servigo/booking-engine/internal/api"
	"github.com/servigo/booking-engine/internal/config"
	"github.com/servigo/booking-engine/internal/db"
	"github.com/servigo/booking-engine/internal/lock"
	"github.com/servigo/booking-engine/internal/logging"
	redisclient "github.com/servigo/booking-engine/internal/redis"
	"github.com/servigo/booking-engine/internal/schedule"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "api-server")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := schedule.NewPgRepository(pgPool)

	rules, err := schedule.DefaultRules(cfg, time.Local)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid business-hours config")
	}
	detector := schedule.NewDetector(repo, rules)
	expander := schedule.NewExpander(cfg.MaxExpansionWindowDays)

	locks := lock.NewManager(lock.NewRedisStore(rdb), lock.Options{
		DefaultTTL: cfg.BookingLockTTL,
		Retries:    cfg.LockRetries,
		Backoff:    cfg.LockBackoff,
	}, logger)

	svc := schedule.NewService(repo, detector, expander, locks, cfg, logger)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Repo:    repo,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
