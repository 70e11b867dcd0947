package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yogaflow/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// setupConfig is read separately from the service config so the tool runs
// without database or storage credentials.
type setupConfig struct {
	ProjectID    string `envconfig:"GCP_PROJECT_ID" required:"true"`
	EmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST" required:"true"`
	Topic        string `envconfig:"PUBSUB_NOTIFICATION_TOPIC" default:"notifications"`
	Reset        bool   `envconfig:"PUBSUB_RESET" default:"false"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on system environment variables.")
	}

	log := logger.New("development", "info")
	log.Info().Msg("Starting Pub/Sub setup for the local emulator.")

	var cfg setupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Msgf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID,
		option.WithEndpoint(cfg.EmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		log.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Msgf("Failed to close pubsub client: %v", err)
		}
	}()

	if cfg.Reset {
		resetEmulator(ctx, client, log)
	}
	if err := ensureNotificationResources(ctx, client, log, cfg.Topic); err != nil {
		log.Fatal().Err(err).Msg("Pub/Sub setup failed")
	}
	log.Info().Msg("Pub/Sub setup for local environment complete.")
}

// resetEmulator deletes every topic and subscription. Only ever run it
// against the emulator.
func resetEmulator(ctx context.Context, client *pubsub.Client, log zerolog.Logger) {
	log.Info().Msg("Deleting all existing resources for a clean local setup")

	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			log.Fatal().Msgf("Failed to list subscriptions: %v", err)
		}
		if err := sub.Delete(ctx); err != nil {
			log.Warn().Msgf("Failed to delete subscription %s: %v", sub.ID(), err)
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			log.Fatal().Msgf("Failed to list topics: %v", err)
		}
		if err := topic.Delete(ctx); err != nil {
			log.Warn().Msgf("Failed to delete topic %s: %v", topic.ID(), err)
		}
	}
}

// ensureNotificationResources creates the notification topic, its dead-letter
// topic and a pull subscription on each.
func ensureNotificationResources(ctx context.Context, client *pubsub.Client, log zerolog.Logger, topicID string) error {
	retention := 7 * 24 * time.Hour

	dlqTopic, err := ensureTopic(ctx, client, log, topicID+"-dlq", retention)
	if err != nil {
		return err
	}
	mainTopic, err := ensureTopic(ctx, client, log, topicID, retention)
	if err != nil {
		return err
	}

	if err := ensureSubscription(ctx, client, log, topicID+"-sub", pubsub.SubscriptionConfig{
		Topic:       mainTopic,
		AckDeadline: 60 * time.Second,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: 10 * time.Second,
			MaximumBackoff: 600 * time.Second,
		},
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopic.String(),
			MaxDeliveryAttempts: 5,
		},
	}); err != nil {
		return err
	}
	return ensureSubscription(ctx, client, log, topicID+"-dlq-sub", pubsub.SubscriptionConfig{
		Topic:       dlqTopic,
		AckDeadline: 60 * time.Second,
	})
}

func ensureTopic(ctx context.Context, client *pubsub.Client, log zerolog.Logger, topicID string, retention time.Duration) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if exists {
		log.Info().Str("topic", topicID).Msg("Topic already exists")
		return topic, nil
	}
	log.Info().Str("topic", topicID).Dur("retention", retention).Msg("Creating topic")
	created, err := client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{RetentionDuration: retention})
	if err != nil {
		return nil, fmt.Errorf("create topic %s: %w", topicID, err)
	}
	return created, nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, log zerolog.Logger, subID string, cfg pubsub.SubscriptionConfig) error {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", subID, err)
	}
	if !exists {
		log.Info().Str("subscription", subID).Msg("Creating subscription")
		if _, err := client.CreateSubscription(ctx, subID, cfg); err != nil {
			return fmt.Errorf("create subscription %s: %w", subID, err)
		}
		return nil
	}

	existing, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("read subscription %s: %w", subID, err)
	}
	if existing.AckDeadline == cfg.AckDeadline {
		log.Info().Str("subscription", subID).Msg("Subscription is up to date")
		return nil
	}
	log.Info().Str("subscription", subID).Msg("Updating subscription ack deadline")
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{AckDeadline: cfg.AckDeadline}); err != nil {
		return fmt.Errorf("update subscription %s: %w", subID, err)
	}
	return nil
}
