package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"yogaflow/internal/config"
	"yogaflow/internal/database"
	"yogaflow/internal/logger"
	"yogaflow/internal/pgmq"
	"yogaflow/internal/pubsub"
	"yogaflow/internal/repository"
	"yogaflow/internal/service"
	"yogaflow/internal/worker/notification"
	"yogaflow/internal/worker/sweeper"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Worker mode: notification|sweeper")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		bootLog := logger.New("development", "info")
		bootLog.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Msgf("Error loading config: %v", err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel).With().Str("mode", *mode).Logger()

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.Open(ctx, cfg.DBConnectionString, log)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	userRepo := repository.NewUserRepo(pool)
	queue := pgmq.New(pool)

	var runErr error
	switch *mode {
	case "notification":
		if cfg.PubSubEmulatorHost != "" {
			log.Info().Str("host", cfg.PubSubEmulatorHost).Msg("Publishing to Pub/Sub emulator")
		}
		publisher, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		defer publisher.Close()

		w := notification.New(notification.Config{
			QueueName:           cfg.NotificationQueueName,
			DeadLetterQueueName: cfg.NotificationDeadLetterQueueName,
			Topic:               cfg.PubSubNotificationTopic,
			PollTimeoutSec:      cfg.NotificationPollTimeoutSec,
			PollMaxMsg:          cfg.NotificationPollMaxMsg,
			VisibilitySec:       cfg.NotificationVisibilitySec,
			MaxRetries:          cfg.NotificationMaxRetries,
			BackoffInitial:      time.Duration(cfg.NotificationBackoffInitialSec) * time.Second,
			BackoffMax:          time.Duration(cfg.NotificationBackoffMaxSec) * time.Second,
		}, queue, userRepo, publisher, log)
		runErr = w.Run(ctx)
	case "sweeper":
		notifier := service.NewNotificationService(queue, cfg.NotificationQueueName, log)
		sweepSvc := service.NewSweepService(userRepo, repository.NewSubscriptionRepo(pool), notifier, cfg.SweepGracePeriod, log)
		runErr = sweeper.New(sweepSvc, cfg.SweepSchedule, 5*time.Minute, log).Run(ctx)
	default:
		log.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		log.Fatal().Msgf("Worker exited with error: %v", runErr)
	}
	log.Info().Msg("Worker shut down gracefully")
}
