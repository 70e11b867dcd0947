package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	RedisURL           string `envconfig:"REDIS_URL"`
	// JWTSecret is an HMAC secret or a PEM public key, depending on how tokens are signed.
	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Stripe settings. When STRIPE_SECRET_NAME is set the key is read from
	// Secret Manager and STRIPE_SECRET_KEY is ignored.
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY"`
	StripeSecretName      string `envconfig:"STRIPE_SECRET_NAME"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripeSuccessURL      string `envconfig:"STRIPE_SUCCESS_URL" required:"true"`
	StripeCancelURL       string `envconfig:"STRIPE_CANCEL_URL" required:"true"`
	StripePortalReturnURL string `envconfig:"STRIPE_PORTAL_RETURN_URL" required:"true"`

	// Subscription rules
	TrialPeriodDays    int64         `envconfig:"TRIAL_PERIOD_DAYS" default:"7"`
	MaxPaymentAttempts int64         `envconfig:"MAX_PAYMENT_ATTEMPTS" default:"4"`
	WebhookDedupTTL    time.Duration `envconfig:"WEBHOOK_DEDUP_TTL" default:"72h"`
	SweepSchedule      string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1h"`
	SweepGracePeriod   time.Duration `envconfig:"SWEEP_GRACE_PERIOD" default:"6h"`

	// Google Cloud
	GCPProjectID            string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost      string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubNotificationTopic string `envconfig:"PUBSUB_NOTIFICATION_TOPIC" default:"notifications"`

	// Notification worker settings
	NotificationQueueName           string `envconfig:"NOTIFICATION_QUEUE_NAME" default:"notification_queue"`
	NotificationDeadLetterQueueName string `envconfig:"NOTIFICATION_DEAD_LETTER_QUEUE_NAME" default:"notification_queue_dlq"`
	NotificationPollTimeoutSec      int    `envconfig:"NOTIFICATION_POLL_TIMEOUT_SEC" default:"30"`
	NotificationPollMaxMsg          int    `envconfig:"NOTIFICATION_POLL_MAX_MSG" default:"10"`
	NotificationVisibilitySec       int    `envconfig:"NOTIFICATION_VISIBILITY_SEC" default:"60"`
	NotificationMaxRetries          int    `envconfig:"NOTIFICATION_MAX_RETRIES" default:"5"`
	NotificationBackoffInitialSec   int    `envconfig:"NOTIFICATION_BACKOFF_INITIAL_SEC" default:"1"`
	NotificationBackoffMaxSec       int    `envconfig:"NOTIFICATION_BACKOFF_MAX_SEC" default:"60"`

	// Video storage
	S3URL       string        `envconfig:"S3_URL" required:"true"`
	S3Bucket    string        `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string        `envconfig:"S3_REGION" required:"true"`
	S3AccessKey string        `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string        `envconfig:"S3_SECRET_KEY" required:"true"`
	VideoURLTTL time.Duration `envconfig:"VIDEO_URL_TTL" default:"15m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
