package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/config"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/domain/ports/repository"
	payAdapters "daraja-payments/internal/infra/adapters/payment"
	"daraja-payments/internal/infra/api"
	"daraja-payments/internal/infra/broker/rabbitmq"
	pg "daraja-payments/internal/infra/db/postgres"
	"daraja-payments/internal/infra/logging"
	"daraja-payments/internal/infra/metrics"
	red "daraja-payments/internal/infra/redis"
	"daraja-payments/internal/infra/sched"
	"daraja-payments/internal/infra/security"
	"daraja-payments/internal/infra/scheduler"
	"daraja-payments/internal/infra/web"
	"daraja-payments/internal/infra/worker"
	"daraja-payments/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: noop providers when credentials are missing, log-only event publisher")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("config")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)
	var tokenCache repository.KeyValueStore = red.NewKVStore(redisClient, "tokens")
	if cfg.Security.TokenKey != "" {
		enc, err := security.NewEncryptionService(cfg.Security.TokenKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("security")
		}
		tokenCache = security.NewSealedStore(tokenCache, enc, logger)
	}
	orgCache := red.NewKVStore(redisClient, "cache")

	// ---- Repositories ----
	paymentRepo := pg.NewPaymentRepo(pool)
	orgRepo := pg.NewOrganizationRepoCacheDecorator(pg.NewOrganizationRepo(pool), orgCache, cfg.Redis.TTL)
	outboxRepo := pg.NewOutboxRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Providers ----
	providers := buildProviders(cfg, tokenCache, logger)

	// ---- Event publisher ----
	var publisher rabbitmq.Publisher
	if cfg.RabbitMQ.URL != "" {
		producer, err := rabbitmq.NewProducer(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbitmq")
		}
		publisher = producer
	} else {
		logger.Warn().Msg("rabbitmq.url not set; events are logged instead of published")
		publisher = rabbitmq.NewLogPublisher(logger)
	}
	defer publisher.Close()
	dispatcher := sched.NewOutboxDispatcher(outboxRepo, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.StaleAfter, logger)

	// ---- Use cases ----
	paymentUC := usecase.NewPaymentUseCase(paymentRepo, orgRepo, outboxRepo, txManager, locker, providers, dispatcher, logger)

	// ---- Background workers ----
	workers := worker.NewPool(cfg.Reconciler.Workers, logger)
	workers.Start(ctx)
	reconciler := sched.NewPaymentReconciler(paymentUC, workers, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, logger)

	sweeps, err := scheduler.NewScheduler(cfg.Sweep.TierSweepCron, paymentUC, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler")
	}
	if err := sweeps.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler start")
	}

	var wg sync.WaitGroup
	runLoop := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("loop", name).Msg("background loop stopped")
			}
		}()
	}
	runLoop("outbox_dispatcher", dispatcher.Run)
	runLoop("payment_reconciler", reconciler.Run)

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	webServer := web.NewServer(paymentUC, auth, rateLimiter, web.Options{
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		RequestTimeout:    cfg.HTTP.RequestTimeout,
		InitiatePerWindow: cfg.RateLimit.InitiatePerWindow,
		RateWindow:        cfg.RateLimit.Window,
	}, logger)
	webServer.AddHealthCheck("postgres", pool.Ping)
	webServer.AddHealthCheck("redis", redisClient.Ping)

	httpServer := api.NewServer(cfg.HTTP.Port, webServer.Routes(), cfg.HTTP.RequestTimeout, logger)
	if err := httpServer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server")
		cancel()
	}

	// ---- Graceful shutdown ----
	logger.Info().Msg("shutdown requested")
	sweeps.Stop()
	wg.Wait()
	workers.Stop()
	logger.Info().Msg("bye")
}

// buildProviders wires the real gateways, or noop providers in dev mode when
// credentials are missing.
func buildProviders(cfg *config.Config, tokens repository.KeyValueStore, logger *zerolog.Logger) []adapter.PaymentProvider {
	var out []adapter.PaymentProvider
	if cfg.MpesaConfigured() {
		out = append(out, payAdapters.NewMpesaGateway(cfg.Mpesa, tokens, logger, cfg.Runtime.Dev))
	} else {
		logger.Warn().Msg("mpesa credentials missing; using noop provider")
		out = append(out, payAdapters.NewNoopProvider(model.MethodMpesa))
	}
	if cfg.PayPalConfigured() {
		out = append(out, payAdapters.NewPayPalGateway(cfg.PayPal, cfg.App.URL, tokens, logger))
	} else {
		logger.Warn().Msg("paypal credentials missing; using noop provider")
		out = append(out, payAdapters.NewNoopProvider(model.MethodPayPal))
	}
	return out
}
