package service

import (
	"context"
	"fmt"
	"time"

	"yogaflow/internal/metrics"
	"yogaflow/internal/model"
	"yogaflow/internal/repository"

	"github.com/rs/zerolog"
)

// AccessService answers whether a user may open paid content.
type AccessService interface {
	// EvaluateAccess reports the user's access state without side effects.
	EvaluateAccess(ctx context.Context, userID string) (*model.AccessResult, error)
	// RequireAccess is EvaluateAccess that fails with *AccessDeniedError when access is missing.
	RequireAccess(ctx context.Context, userID string) (*model.AccessResult, error)
}

type accessService struct {
	userRepo repository.UserRepository
	subRepo  repository.SubscriptionRepository
	logger   zerolog.Logger
	now      func() time.Time
}

func NewAccessService(userRepo repository.UserRepository, subRepo repository.SubscriptionRepository, logger zerolog.Logger) AccessService {
	return &accessService{
		userRepo: userRepo,
		subRepo:  subRepo,
		logger:   logger.With().Str("service", "AccessService").Logger(),
		now:      time.Now,
	}
}

func (s *accessService) EvaluateAccess(ctx context.Context, userID string) (*model.AccessResult, error) {
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	current, err := s.subRepo.ListCurrentByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch current subscriptions")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	res := model.EvaluateAccess(*u, current, s.now())
	return &res, nil
}

func (s *accessService) RequireAccess(ctx context.Context, userID string) (*model.AccessResult, error) {
	res, err := s.EvaluateAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !res.HasAccess {
		metrics.AccessChecks.WithLabelValues("denied").Inc()
		s.logger.Debug().Str("user_id", userID).Str("reason", string(res.Reason)).Msg("Access denied")
		return res, &AccessDeniedError{Reason: res.Reason}
	}
	metrics.AccessChecks.WithLabelValues("granted").Inc()
	return res, nil
}
