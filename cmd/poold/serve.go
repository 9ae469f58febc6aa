package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Pool-labs/Pool/internal/api"
	"github.com/Pool-labs/Pool/internal/app"
	"github.com/Pool-labs/Pool/internal/config"
	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/onboarding"
	"github.com/Pool-labs/Pool/internal/session"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/Pool-labs/Pool/pkg/paymentsclient"
	rmrabbit "github.com/Pool-labs/Pool/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the payment status consumer and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func openDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return dbpool, nil
}

// openGuard returns a Redis-backed onboarding guard, or an in-process one
// when Redis is not configured or unreachable.
func openGuard(ctx context.Context, cfg config.Config) (onboarding.Guard, func()) {
	if cfg.RedisURL == "" {
		log.Warn().Str("component", "bootstrap").Msg("redis url missing; onboarding guard is per-process")
		return onboarding.NewMemoryGuard(), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn().Str("component", "bootstrap").Err(err).Msg("redis url parse failed; onboarding guard is per-process")
		return onboarding.NewMemoryGuard(), func() {}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Str("component", "bootstrap").Err(err).Msg("redis ping failed; onboarding guard is per-process")
		client.Close()
		return onboarding.NewMemoryGuard(), func() {}
	}
	log.Info().Str("component", "bootstrap").Msg("redis connected")
	return onboarding.NewRedisGuard(client, cfg.OnboardingLockPrefix, cfg.OnboardingLockTTL()), func() { client.Close() }
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("component", "bootstrap").Str("port", cfg.ServerPort).Str("store", cfg.StoreBackend).Msg("starting poold")

	if strings.TrimSpace(cfg.SessionTokenSecret) == "" {
		return errors.New("SESSION_TOKEN_SECRET must be configured")
	}

	var ds store.DocumentStore
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		log.Warn().Str("component", "bootstrap").Msg("using in-memory store; data is lost on restart")
		ds = store.NewMemoryStore()
	default:
		dbpool, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer dbpool.Close()
		log.Info().Str("component", "bootstrap").Msg("database connected")

		pg := store.NewPostgresStore(dbpool)
		go func() {
			if err := pg.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", "store").Msg("document change listener stopped")
			}
		}()
		ds = pg
	}

	guard, closeGuard := openGuard(ctx, cfg)
	defer closeGuard()

	var publisher rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Warn().Str("component", "bootstrap").Err(err).Msg("rabbitmq producer unavailable; using fallback")
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		log.Info().Str("component", "bootstrap").Msg("rabbitmq producer connected")
		publisher = producer
	}
	defer publisher.Close()

	accounts := store.NewAccountRepository(ds)
	pools := store.NewPoolRepository(ds)
	cards := store.NewCardRepository(ds)
	payments := store.NewPaymentRepository(ds)
	attempts := store.NewAttemptRepository(ds)

	// Identity and sessions.
	var federated identity.FederatedTokenVerifier
	if cfg.FederatedJWKSURL != "" {
		federated = identity.NewFederatedVerifier(cfg.FederatedJWKSURL, cfg.FederatedAudience, cfg.FederatedIssuer)
	}
	tokens := identity.NewTokenManager(cfg.SessionTokenSecret, cfg.SessionTokenIssuer, cfg.SessionTokenTTL())
	provider := identity.NewLocalProvider(ds, tokens, federated)

	sessions := session.NewManager(provider, accounts)
	sessions.Start()
	defer sessions.Stop()

	// Payments provider, onboarding and the pool services.
	paymentsClient := paymentsclient.NewClient(cfg.PaymentsAPIBaseURL, cfg.PaymentsAPIKey)

	wallets := app.NewWalletService(accounts)

	saga := onboarding.NewSaga(paymentsClient, accounts, attempts, guard, publisher)
	saga.ProvisionWallets(wallets)
	saga.OnAccountLinked(func(account *domain.Account) {
		sessions.ApplyAccount(account.ID, account)
	})

	cardService := app.NewCardService(cards, pools, accounts, paymentsClient)
	poolService := app.NewPoolService(pools, accounts, paymentsClient, cardService, publisher)
	paymentService := app.NewPaymentService(payments, pools, accounts, paymentsClient)
	paymentService.OnContributionCredited(wallets.RewardContribution)

	// Payment status events from the provider's webhook relay.
	consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Warn().Str("component", "bootstrap").Err(err).Msg("rabbitmq consumer unavailable; payment status updates disabled")
	} else {
		defer consumer.Close()
		statusHandler := app.NewPaymentStatusHandler(paymentService)
		if err := consumer.Consume(domain.ExchangePaymentEvents, cfg.PaymentEventsQueue, domain.RoutingKeyPaymentStatus, statusHandler.Handle); err != nil {
			return fmt.Errorf("payment status consumer start failed: %w", err)
		}
	}

	scheduler := app.NewScheduler(app.NewJobs(attempts), cfg)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	limiter := api.NewRateLimiter(cfg.RateLimitPerMinute)
	defer limiter.Stop()

	handlers := api.NewHandlers(provider, sessions, saga, poolService, cardService, paymentService)
	router := api.NewRouter(handlers, provider, sessions, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins(),
		RateLimiter:    limiter,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("component", "http").Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Str("component", "http").Msg("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Str("component", "http").Err(err).Msg("shutdown failed")
	}

	log.Info().Str("component", "http").Msg("shutdown complete")
	return nil
}
