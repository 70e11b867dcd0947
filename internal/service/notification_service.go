package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"yogaflow/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Enqueuer writes a message to a durable queue.
type Enqueuer interface {
	Send(ctx context.Context, queue string, payload []byte) error
}

// NotificationService dispatches notifications to a user or to every account with a role.
type NotificationService interface {
	Notify(ctx context.Context, target model.NotificationTarget, kind model.NotificationKind, payload map[string]any) error
}

type notificationService struct {
	queue     Enqueuer
	queueName string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewNotificationService returns a NotificationService that writes to the outbox
// queue; the notification worker publishes from there.
func NewNotificationService(queue Enqueuer, queueName string, logger zerolog.Logger) NotificationService {
	return &notificationService{
		queue:     queue,
		queueName: queueName,
		logger:    logger.With().Str("service", "NotificationService").Logger(),
		now:       time.Now,
	}
}

func (s *notificationService) Notify(ctx context.Context, target model.NotificationTarget, kind model.NotificationKind, payload map[string]any) error {
	if (target.UserID == "") == (target.Role == "") {
		return fmt.Errorf("%w: notification target needs exactly one of user or role", ErrBadRequest)
	}
	n := model.Notification{
		ID:        uuid.NewString(),
		Target:    target,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.queue.Send(ctx, s.queueName, body); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", kind, err)
	}
	s.logger.Debug().Str("notification_id", n.ID).Str("kind", string(kind)).Str("user_id", target.UserID).Str("role", target.Role).Msg("Notification enqueued")
	return nil
}
