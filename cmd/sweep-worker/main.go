package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/servigo/booking-engine/internal/config"
	"github.com/servigo/booking-engine/internal/db"
	"github.com/servigo/booking-engine/internal/lock"
	"github.com/servigo/booking-engine/internal/logging"
	redisclient "github.com/servigo/booking-engine/internal/redis"
	"github.com/servigo/booking-engine/internal/schedule"
)

// The sweep worker has two periodic jobs: clearing expired rows out of the
// lock registry (the safety net behind opportunistic reclamation) and
// re-expanding every active availability rule over the booking horizon.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "sweep-worker")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, "sweep-worker")
	logger.Info().
		Str("env", cfg.Env).
		Dur("sweep_interval", cfg.SweepInterval).
		Int("horizon_days", cfg.HorizonDays).
		Msg("sweep-worker starting up")

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

	repo := schedule.NewPgRepository(pgPool)

	rules, err := schedule.DefaultRules(cfg, time.Local)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid business-hours config")
	}
	detector := schedule.NewDetector(repo, rules)
	expander := schedule.NewExpander(cfg.MaxExpansionWindowDays)

	// Booking locks live in Redis, but crashed holders of the relational
	// registry (used by single-node deployments) leave rows behind; sweep both.
	pgLocks := lock.NewManager(lock.NewPostgresStore(pgPool), lock.Options{}, logger)
	redisLocks := lock.NewManager(lock.NewRedisStore(rdb), lock.Options{
		DefaultTTL: cfg.BookingLockTTL,
		Retries:    cfg.LockRetries,
		Backoff:    cfg.LockBackoff,
	}, logger)

	svc := schedule.NewService(repo, detector, expander, redisLocks, cfg, logger)

	c := cron.New()

	sweepSpec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	_, err = c.AddFunc(sweepSpec, func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 20*time.Second)
		defer cancel()
		if err := pgLocks.Sweep(runCtx); err != nil {
			logger.Error().Err(err).Msg("lock sweep failed")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule lock sweep")
	}

	_, err = c.AddFunc("@hourly", func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
		defer cancel()
		start := time.Now()
		if err := svc.RefreshHorizon(runCtx, cfg.HorizonDays); err != nil {
			logger.Error().Err(err).Msg("horizon refresh failed")
			return
		}
		logger.Info().Dur("took", time.Since(start)).Msg("horizon refresh complete")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule horizon refresh")
	}

	c.Start()
	defer c.Stop()

	// Run both once at startup
	startCtx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
	if err := pgLocks.Sweep(startCtx); err != nil {
		logger.Error().Err(err).Msg("initial lock sweep failed")
	}
	if err := svc.RefreshHorizon(startCtx, cfg.HorizonDays); err != nil {
		logger.Error().Err(err).Msg("initial horizon refresh failed")
	}
	cancel()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping sweep worker")
}
