package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pok7/internal/app/registry"
	"pok7/internal/app/server"
	"pok7/internal/app/server/ws"
	"pok7/internal/app/worker"
	"pok7/internal/config"
	"pok7/internal/core/services"
	"pok7/internal/platform/logger"
	"pok7/internal/platform/metrics"
	"pok7/internal/platform/telemetry"
	"pok7/internal/plugins/postgres"
	redisPlugin "pok7/internal/plugins/redis"
	"pok7/internal/plugins/webpush"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	// Config
	cfg := config.Load()
	fs := pflag.NewFlagSet("pok7", pflag.ExitOnError)
	config.BindFlags(fs, cfg)
	_ = fs.Parse(os.Args[1:])

	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")
	if cfg.SecretToken == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if otelShutdown != nil {
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Error("telemetry shutdown failed", "err", err)
			}
		}
	}()
	metrics.Register(prometheus.DefaultRegisterer)

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		log.Error("postgres connection failed", "err", err)
		return
	}
	defer pdb.Close()
	if err := postgres.Migrate(ctx, pdb); err != nil {
		log.Error("postgres migration failed", "err", err)
		return
	}
	log.Info("postgres connected")
	var rdb *redis.Client
	if rdb, err = redisPlugin.New(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	// Adapters
	userRepo := postgres.NewUserRepository(pdb)
	pokeRepo := postgres.NewPokeRepository(pdb)
	pushRepo := postgres.NewPushSubscriptionRepository(pdb)
	txManager := postgres.NewTxManager(pdb)
	presence := redisPlugin.NewRedisPresenceRegistry(rdb, cfg.Presence.OpTimeout)
	broker := redisPlugin.NewBroker(log, rdb, cfg.Presence.ChannelPrefix)
	broker.Start(ctx)
	sender, err := webpush.NewSender(log, *cfg.WebPush)
	if err != nil {
		log.Error("webpush sender failed", "err", err)
		return
	}

	// Core Services
	hub := registry.NewRegistry()
	tokenSvc := services.NewTokenService(cfg.SecretToken)
	pushSvc := services.NewPushService(log, pushRepo, sender, sender.VAPIDPublicKey())
	deliverySvc := services.NewDeliveryService(log, presence, broker, pushSvc)
	pokeSvc := services.NewPokeService(log, txManager, userRepo, pokeRepo, deliverySvc)
	userSvc := services.NewUserService(log, userRepo, pokeRepo)
	sessionSvc := services.NewSessionService(log, *cfg.Presence, presence, broker, pokeRepo, hub)

	// Workers
	sweeper := worker.NewPresenceSweeper(log, presence, cfg.Presence.SweepSchedule)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweeper.Run(ctx); err != nil {
			log.Error("presence sweeper stopped", "err", err)
		}
	}()

	// Server
	srv := server.NewServer(log, cfg.Service.Name, cfg.Service.Add, server.Deps{
		Tokens:   tokenSvc,
		Sessions: sessionSvc,
		Pokes:    pokeSvc,
		Presence: presence,
		Users:    userSvc,
		Push:     pushSvc,
		Keepalive: ws.Keepalive{
			PingInterval: cfg.Presence.PingInterval,
			PongWait:     cfg.Presence.PongWait,
		},
		Gatherer: prometheus.DefaultGatherer,
		Checks: map[string]server.HealthCheck{
			"postgres": pdb.PingContext,
			"redis":    redisPlugin.HealthCheck(rdb),
		},
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			log.Error("server failed", "err", err)
		}
	}

	// Shutdown: stop intake, end live sessions, drain deliveries, then infra.
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
	closed := hub.CloseAll()
	for {
		if _, sessions := hub.Stats(); sessions == 0 || shutdownCtx.Err() != nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Info("live sessions closed", "count", closed)
	deliverySvc.Wait()
	stop()
	<-sweepDone
	if err := broker.Close(); err != nil {
		log.Error("broker close failed", "err", err)
	}
}
