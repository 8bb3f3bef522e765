package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/phihealth/appointments-service/internal/config"
	"github.com/phihealth/appointments-service/internal/db"
	"github.com/phihealth/appointments-service/internal/eventbus"
	redisclient "github.com/phihealth/appointments-service/internal/redis"
	"github.com/phihealth/appointments-service/internal/scheduling"
)

// The completion worker is the collaborator that moves appointments past
// their end time from scheduled to completed. It runs outside the booking
// engine's request path on a fixed interval.

const serviceName = "appointments-completion-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("config load error")
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("completion-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()

	var events scheduling.EventPublisher
	if cfg.AMQPURL != "" {
		pub, err := eventbus.NewPublisher(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connection error")
		}
		defer func() { _ = pub.Close() }()
		events = pub
	}

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewProviderLocker(rdb, cfg.LockTTL)
	svc := scheduling.NewService(repo, repo, locker, events, scheduling.ServiceConfig{
		ServiceName: serviceName,
		Durations: scheduling.DurationTable{
			scheduling.TypeInitial:      cfg.DurationInitial,
			scheduling.TypeFollowUp:     cfg.DurationFollowUp,
			scheduling.TypeTelemedicine: cfg.DurationTelemedicine,
		},
		SlotDuration: cfg.SlotDuration,
	}, log)

	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.CompleteElapsedAppointments(runCtx); err != nil {
		log.Error().Err(err).Msg("completion run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("completion run complete")
}
