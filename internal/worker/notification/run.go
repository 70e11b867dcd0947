// Package notification drains the notification outbox into Pub/Sub.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"yogaflow/internal/metrics"
	"yogaflow/internal/model"
	"yogaflow/internal/pgmq"
	"yogaflow/internal/pubsub"

	"github.com/rs/zerolog"
)

// Queue is the subset of the pgmq client the worker needs.
type Queue interface {
	Send(ctx context.Context, queue string, payload []byte) error
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*pgmq.Message, error)
	Delete(ctx context.Context, queue string, msgIDs []int64) error
}

// RoleDirectory expands a role target into user ids.
type RoleDirectory interface {
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
}

type Config struct {
	QueueName           string
	DeadLetterQueueName string
	Topic               string
	PollTimeoutSec      int
	PollMaxMsg          int
	VisibilitySec       int
	MaxRetries          int
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
}

// Delivery is the Pub/Sub message body: one notification for one user.
type Delivery struct {
	NotificationID string                 `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	Kind           model.NotificationKind `json:"kind"`
	Payload        map[string]any         `json:"payload,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type Worker struct {
	cfg       Config
	queue     Queue
	users     RoleDirectory
	publisher pubsub.Publisher
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

func New(cfg Config, queue Queue, users RoleDirectory, publisher pubsub.Publisher, logger zerolog.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		queue:     queue,
		users:     users,
		publisher: publisher,
		logger:    logger.With().Str("worker", "notification").Str("queue", cfg.QueueName).Logger(),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("topic", w.cfg.Topic).Msg("Starting notification worker")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Shutting down notification worker")
			return nil
		default:
		}

		if err := w.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error().Err(err).Msg("Error reading notification queue")
			_ = w.sleep(ctx, time.Second)
		}
	}
}

// Poll reads one batch from the outbox and delivers every message in it.
func (w *Worker) Poll(ctx context.Context) error {
	msgs, err := w.queue.ReadWithPoll(ctx, w.cfg.QueueName, w.cfg.VisibilitySec, w.cfg.PollMaxMsg, w.cfg.PollTimeoutSec)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		w.handle(ctx, msg)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *pgmq.Message) {
	log := w.logger.With().Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Logger()

	if w.cfg.MaxRetries > 0 && msg.ReadCount > w.cfg.MaxRetries {
		w.deadLetter(ctx, log, msg, fmt.Errorf("redelivered %d times", msg.ReadCount))
		return
	}

	var n model.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		w.deadLetter(ctx, log, msg, fmt.Errorf("decode notification: %w", err))
		return
	}
	log = log.With().Str("notification_id", n.ID).Str("kind", string(n.Kind)).Logger()

	if err := w.deliver(ctx, log, n); err != nil {
		if ctx.Err() != nil {
			// Left invisible; pgmq redelivers it after the visibility timeout.
			return
		}
		w.deadLetter(ctx, log, msg, err)
		return
	}

	if err := w.queue.Delete(ctx, w.cfg.QueueName, []int64{msg.ID}); err != nil {
		log.Error().Err(err).Msg("Error deleting notification message")
	}
	metrics.NotificationsPublished.WithLabelValues("published").Inc()
}

// deliver publishes one message per recipient, retrying with exponential
// backoff. Recipients already published are not sent again within a call.
func (w *Worker) deliver(ctx context.Context, log zerolog.Logger, n model.Notification) error {
	backoff := w.cfg.BackoffInitial
	attempts := max(w.cfg.MaxRetries, 1)
	done := make(map[string]bool)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = w.publishAll(ctx, n, done)
		if lastErr == nil {
			log.Info().Int("recipients", len(done)).Msg("Notification published")
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Publishing notification failed, retrying")
		if attempt == attempts {
			break
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > w.cfg.BackoffMax {
			backoff = w.cfg.BackoffMax
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}

func (w *Worker) publishAll(ctx context.Context, n model.Notification, done map[string]bool) error {
	recipients, err := w.recipients(ctx, n.Target)
	if err != nil {
		return err
	}
	for _, userID := range recipients {
		if done[userID] {
			continue
		}
		body, err := json.Marshal(Delivery{
			NotificationID: n.ID,
			UserID:         userID,
			Kind:           n.Kind,
			Payload:        n.Payload,
			CreatedAt:      n.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal delivery: %w", err)
		}
		attrs := map[string]string{"kind": string(n.Kind), "user_id": userID, "notification_id": n.ID}
		if _, err := w.publisher.Publish(ctx, w.cfg.Topic, body, attrs); err != nil {
			return err
		}
		done[userID] = true
	}
	return nil
}

func (w *Worker) recipients(ctx context.Context, target model.NotificationTarget) ([]string, error) {
	switch {
	case target.UserID != "":
		return []string{target.UserID}, nil
	case target.Role != "":
		ids, err := w.users.ListUserIDsByRole(ctx, target.Role)
		if err != nil {
			return nil, fmt.Errorf("list users with role %s: %w", target.Role, err)
		}
		return ids, nil
	}
	return nil, errors.New("notification has no target")
}

func (w *Worker) deadLetter(ctx context.Context, log zerolog.Logger, msg *pgmq.Message, cause error) {
	metrics.NotificationsPublished.WithLabelValues("dead_lettered").Inc()
	payload := json.RawMessage(msg.Data)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(msg.Data))
		payload = quoted
	}
	body, err := json.Marshal(model.DeadLetterMessage{
		Queue:     w.cfg.QueueName,
		MessageID: msg.ID,
		Payload:   payload,
		Error:     cause.Error(),
		Attempts:  msg.ReadCount,
		FailedAt:  w.now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal dead-letter message")
		return
	}
	if err := w.queue.Send(ctx, w.cfg.DeadLetterQueueName, body); err != nil {
		// Keep the original so it is retried after the visibility timeout.
		log.Error().Err(err).Str("dlq", w.cfg.DeadLetterQueueName).Msg("Failed to send message to dead-letter queue")
		return
	}
	if err := w.queue.Delete(ctx, w.cfg.QueueName, []int64{msg.ID}); err != nil {
		log.Error().Err(err).Msg("Error deleting notification message after failure")
	}
	log.Warn().Err(cause).Msg("Moved notification to dead-letter queue")
}
