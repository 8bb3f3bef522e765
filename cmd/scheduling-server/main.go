package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/phihealth/appointments-service/internal/api"
	"github.com/phihealth/appointments-service/internal/config"
	"github.com/phihealth/appointments-service/internal/db"
	"github.com/phihealth/appointments-service/internal/eventbus"
	redisclient "github.com/phihealth/appointments-service/internal/redis"
	"github.com/phihealth/appointments-service/internal/scheduling"
)

const (
	serviceName = "appointments-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("scheduling-server starting up")

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
	log.Info().Msg("connected to Redis")

	var events scheduling.EventPublisher
	var eventsHealth api.EventBusHealth
	if cfg.AMQPURL != "" {
		pub, err := eventbus.NewPublisher(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connection error")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error().Err(err).Msg("error closing rabbitmq")
			}
		}()
		events = pub
		eventsHealth = pub
	} else {
		log.Warn().Msg("AMQP_URL not set, outbound events disabled")
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

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Events:  eventsHealth,
		Env:     cfg.Env,
		Version: version,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down scheduling-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}

func newLogger(env string) zerolog.Logger {
	var out = zerolog.New(os.Stdout)
	if env == "dev" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	return out.With().Timestamp().Str("service", serviceName).Logger()
}
