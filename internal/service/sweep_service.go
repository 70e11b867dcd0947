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

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	ExpiredRows   int
	UsersChecked  int
	AccessRevoked int
}

// SweepService expires lapsed ledger rows and trials and brings the affected
// users' access flags back in line.
type SweepService interface {
	Sweep(ctx context.Context) (*SweepResult, error)
}

type sweepService struct {
	userRepo repository.UserRepository
	subRepo  repository.SubscriptionRepository
	notifier NotificationService
	grace    time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSweepService(userRepo repository.UserRepository, subRepo repository.SubscriptionRepository, notifier NotificationService, grace time.Duration, logger zerolog.Logger) SweepService {
	return &sweepService{
		userRepo: userRepo,
		subRepo:  subRepo,
		notifier: notifier,
		grace:    grace,
		logger:   logger.With().Str("service", "SweepService").Logger(),
		now:      time.Now,
	}
}

func (s *sweepService) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	expired, err := s.subRepo.ExpireLapsed(ctx, now.Add(-s.grace))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	metrics.SubscriptionsExpired.Add(float64(len(expired)))

	lapsedTrials, err := s.userRepo.ListLapsedTrialUserIDs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	res := &SweepResult{ExpiredRows: len(expired)}
	seen := make(map[string]bool)
	for _, id := range append(expired, lapsedTrials...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		res.UsersChecked++

		revoked, err := s.recompute(ctx, id, now)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", id).Msg("Failed to recompute access")
			continue
		}
		if revoked {
			res.AccessRevoked++
		}
	}
	s.logger.Info().
		Int("expired_rows", res.ExpiredRows).
		Int("users_checked", res.UsersChecked).
		Int("access_revoked", res.AccessRevoked).
		Msg("Expiry sweep finished")
	return res, nil
}

// recompute derives the user's flags from the remaining current rows. It only
// ever takes access away. It reports whether access was revoked.
func (s *sweepService) recompute(ctx context.Context, userID string, now time.Time) (bool, error) {
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}
	current, err := s.subRepo.ListCurrentByUser(ctx, userID)
	if err != nil {
		return false, err
	}

	hasActive, hasTrialing := false, false
	for _, row := range current {
		switch row.Status {
		case model.StatusActive:
			hasActive = true
		case model.StatusTrialing:
			hasTrialing = true
		}
	}
	inTrial := u.InTrialAt(now)
	subscribed := u.IsSubscribed && (hasActive || (hasTrialing && inTrial))
	access := u.HasAccess && (subscribed || inTrial)

	var upd model.AccessUpdate
	if u.IsFreeTrial && !inTrial {
		upd.IsFreeTrial = boolPtr(false)
		upd.ClearTrialExpiry = true
	}
	if subscribed != u.IsSubscribed {
		upd.IsSubscribed = boolPtr(subscribed)
	}
	if access != u.HasAccess {
		upd.HasAccess = boolPtr(access)
	}
	if upd.Empty() {
		return false, nil
	}
	if _, err := s.userRepo.UpdateAccess(ctx, userID, upd); err != nil {
		return false, err
	}

	revoked := u.HasAccess && !access
	if revoked {
		if err := s.notifier.Notify(ctx, model.ToUser(userID), model.NotifySubscriptionExpired, map[string]any{
			"package_name": u.PackageName,
		}); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to send expiry notification")
		}
	}
	return revoked, nil
}
