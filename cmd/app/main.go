package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"yogaflow/internal/api/v1/handler"
	"yogaflow/internal/api/v1/router"
	"yogaflow/internal/billing"
	"yogaflow/internal/config"
	"yogaflow/internal/database"
	"yogaflow/internal/idempotency"
	"yogaflow/internal/logger"
	"yogaflow/internal/pgmq"
	"yogaflow/internal/repository"
	"yogaflow/internal/secrets"
	"yogaflow/internal/service"
	"yogaflow/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		bootLog := logger.New("development", "info")
		bootLog.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Msgf("Error loading config: %v", err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Database
	pool, err := database.Open(ctx, cfg.DBConnectionString, log)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Msgf("Failed to run migrations: %v", err)
	}

	// 3. Billing gateway
	stripeKey, err := resolveStripeKey(ctx, cfg, log)
	if err != nil {
		log.Fatal().Msgf("Failed to resolve Stripe key: %v", err)
	}
	gateway := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:       stripeKey,
		WebhookSecret:   cfg.StripeWebhookSecret,
		SuccessURL:      cfg.StripeSuccessURL,
		CancelURL:       cfg.StripeCancelURL,
		PortalReturnURL: cfg.StripePortalReturnURL,
	}, log)

	// 4. Webhook dedupe is optional
	var dedupe idempotency.Store
	if cfg.RedisURL != "" {
		store, err := idempotency.NewRedisStore(ctx, cfg.RedisURL, cfg.WebhookDedupTTL)
		if err != nil {
			log.Fatal().Msgf("Failed to connect to redis: %v", err)
		}
		defer store.Close()
		dedupe = store
	} else {
		log.Warn().Msg("REDIS_URL not set, webhook event dedupe disabled")
	}

	presigner, err := storage.NewS3Presigner(ctx, storage.Config{
		URL:       cfg.S3URL,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.Fatal().Msgf("Failed to create S3 presigner: %v", err)
	}

	// 5. Repositories and services
	userRepo := repository.NewUserRepo(pool)
	subRepo := repository.NewSubscriptionRepo(pool)
	packageRepo := repository.NewPackageRepo(pool)
	videoRepo := repository.NewVideoRepo(pool)

	notifier := service.NewNotificationService(pgmq.New(pool), cfg.NotificationQueueName, log)
	accessSvc := service.NewAccessService(userRepo, subRepo, log)
	userSvc := service.NewUserService(userRepo, gateway, log)
	subSvc := service.NewSubscriptionService(userRepo, subRepo, packageRepo, gateway, cfg.TrialPeriodDays, log)
	webhookSvc := service.NewWebhookService(userRepo, subRepo, packageRepo, gateway, notifier, dedupe, cfg.MaxPaymentAttempts, log)
	videoSvc := service.NewVideoService(videoRepo, accessSvc, presigner, cfg.VideoURLTTL, log)

	validate := validator.New(validator.WithRequiredStructEnabled())
	r := router.New(router.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: 30 * time.Second,
	}, router.Handlers{
		User:         handler.NewUserHandler(userSvc, validate, log),
		Subscription: handler.NewSubscriptionHandler(subSvc, accessSvc, validate, log),
		Video:        handler.NewVideoHandler(videoSvc, log),
		Webhook:      handler.NewWebhookHandler(gateway, webhookSvc, log),
	}, log)

	// 6. HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Msgf("Listen: %s", err)
		}
	}()

	// 7. Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Server forced to shutdown: %v", err)
		return
	}
	log.Info().Msg("Server shut down gracefully")
}

func resolveStripeKey(ctx context.Context, cfg *config.Config, log zerolog.Logger) (string, error) {
	if cfg.StripeSecretName == "" {
		if cfg.StripeSecretKey == "" {
			return "", errors.New("either STRIPE_SECRET_KEY or STRIPE_SECRET_NAME must be set")
		}
		return cfg.StripeSecretKey, nil
	}
	resolver, err := secrets.NewResolver(ctx, cfg.GCPProjectID)
	if err != nil {
		return "", err
	}
	defer resolver.Close()
	key, err := resolver.Resolve(ctx, cfg.StripeSecretName)
	if err != nil {
		return "", err
	}
	log.Info().Str("secret", cfg.StripeSecretName).Msg("Stripe key loaded from Secret Manager")
	return key, nil
}
