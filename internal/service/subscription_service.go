package service

import (
	"context"
	"fmt"
	"strconv"

	"yogaflow/internal/billing"
	"yogaflow/internal/model"
	"yogaflow/internal/repository"

	"github.com/rs/zerolog"
)

// CheckoutIntent classifies a createOrRenew request.
type CheckoutIntent string

const (
	IntentNew           CheckoutIntent = "new"
	IntentRenewal       CheckoutIntent = "renewal"
	IntentPackageChange CheckoutIntent = "package_change"
)

// CheckoutResult is the redirect target of a checkout flow.
type CheckoutResult struct {
	SessionID     string         `json:"session_id"`
	URL           string         `json:"url"`
	TrialEligible bool           `json:"trial_eligible"`
	Intent        CheckoutIntent `json:"intent,omitempty"`
}

// SubscriptionService starts checkout, upgrade and cancellation flows against
// the billing gateway. Apart from Cancel it never writes the ledger; the
// resulting webhooks do.
type SubscriptionService interface {
	StartCheckout(ctx context.Context, userID, packageID string) (*CheckoutResult, error)
	Upgrade(ctx context.Context, userID, packageID string) (string, error)
	Cancel(ctx context.Context, userID string) error
	CreateOrRenew(ctx context.Context, userID, packageID string) (*CheckoutResult, error)
	PortalSession(ctx context.Context, userID string) (string, error)
	History(ctx context.Context, userID string) ([]model.Subscription, error)
	ListPackages(ctx context.Context) ([]model.Package, error)
}

type subscriptionService struct {
	userRepo    repository.UserRepository
	subRepo     repository.SubscriptionRepository
	packageRepo repository.PackageRepository
	gateway     billing.Gateway
	trialDays   int64
	logger      zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	packageRepo repository.PackageRepository,
	gateway billing.Gateway,
	trialDays int64,
	logger zerolog.Logger,
) SubscriptionService {
	return &subscriptionService{
		userRepo:    userRepo,
		subRepo:     subRepo,
		packageRepo: packageRepo,
		gateway:     gateway,
		trialDays:   trialDays,
		logger:      logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) StartCheckout(ctx context.Context, userID, packageID string) (*CheckoutResult, error) {
	user, pkg, err := s.checkoutTarget(ctx, userID, packageID)
	if err != nil {
		return nil, err
	}
	current, err := s.subRepo.GetCurrentByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch current subscription")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if current != nil {
		return nil, fmt.Errorf("%w: already subscribed, change package instead", ErrBadRequest)
	}
	return s.checkout(ctx, user, pkg, IntentNew)
}

func (s *subscriptionService) Upgrade(ctx context.Context, userID, packageID string) (string, error) {
	current, err := s.subRepo.GetCurrentByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch current subscription")
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if current == nil {
		return "", fmt.Errorf("%w: no active subscription", ErrBadRequest)
	}
	pkg, err := s.packageRepo.FindByID(ctx, packageID)
	if err != nil {
		s.logger.Error().Err(err).Str("package_id", packageID).Msg("Failed to fetch package")
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if pkg == nil || pkg.StripePriceID == "" {
		return "", fmt.Errorf("%w: package %s has no price", ErrNotFound, packageID)
	}
	if pkg.ID == current.PackageID {
		return "", fmt.Errorf("%w: already subscribed to this package", ErrBadRequest)
	}

	if _, err := s.gateway.UpdateSubscriptionPrice(ctx, current.GatewaySubscriptionID, pkg.StripePriceID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	customerID := current.GatewayCustomerID
	if customerID == "" {
		user, err := s.userRepo.GetUserByID(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if user == nil || user.StripeCustomerID == nil {
			return "", fmt.Errorf("%w: no billing customer for user %s", ErrNotFound, userID)
		}
		customerID = *user.StripeCustomerID
	}
	url, err := s.gateway.CreatePortalSession(ctx, billing.PortalParams{
		CustomerID:     customerID,
		SubscriptionID: current.GatewaySubscriptionID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("subscription_id", current.GatewaySubscriptionID).
		Str("package_id", pkg.ID).
		Msg("Subscription price updated")
	return url, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, userID string) error {
	current, err := s.subRepo.GetCurrentByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch current subscription")
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if current == nil {
		return fmt.Errorf("%w: no active subscription to cancel", ErrNotFound)
	}
	return s.cancelRow(ctx, current, model.CurrentStatuses)
}

func (s *subscriptionService) cancelRow(ctx context.Context, row *model.Subscription, from []model.SubscriptionStatus) error {
	if err := s.gateway.CancelSubscription(ctx, row.GatewaySubscriptionID); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if _, err := s.subRepo.TransitionStatus(ctx, row.ID, model.StatusCancel, from); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", row.GatewaySubscriptionID).Msg("Failed to mark subscription cancelled")
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	s.logger.Info().Str("user_id", row.UserID).Str("subscription_id", row.GatewaySubscriptionID).Msg("Subscription cancelled")
	return nil
}

func (s *subscriptionService) CreateOrRenew(ctx context.Context, userID, packageID string) (*CheckoutResult, error) {
	user, pkg, err := s.checkoutTarget(ctx, userID, packageID)
	if err != nil {
		return nil, err
	}

	prior, err := s.subRepo.GetCurrentByUser(ctx, userID)
	if err == nil && prior == nil {
		prior, err = s.subRepo.GetLatestByUser(ctx, userID)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription history")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	intent := IntentNew
	if prior != nil {
		if prior.PackageID == pkg.ID {
			if prior.Status.IsCurrent() {
				return nil, fmt.Errorf("%w: already subscribed to this package", ErrBadRequest)
			}
			intent = IntentRenewal
		} else {
			intent = IntentPackageChange
		}
		if prior.Status.IsUpdatable() && prior.GatewaySubscriptionID != "" {
			if err := s.cancelRow(ctx, prior, model.UpdatableStatuses); err != nil {
				return nil, err
			}
		}
	}
	return s.checkout(ctx, user, pkg, intent)
}

func (s *subscriptionService) PortalSession(ctx context.Context, userID string) (string, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if user == nil || user.StripeCustomerID == nil {
		return "", fmt.Errorf("%w: no billing customer for user %s", ErrNotFound, userID)
	}
	url, err := s.gateway.CreatePortalSession(ctx, billing.PortalParams{CustomerID: *user.StripeCustomerID})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return url, nil
}

func (s *subscriptionService) History(ctx context.Context, userID string) ([]model.Subscription, error) {
	subs, err := s.subRepo.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription history")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return subs, nil
}

func (s *subscriptionService) ListPackages(ctx context.Context) ([]model.Package, error) {
	pkgs, err := s.packageRepo.ListActive(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list packages")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return pkgs, nil
}

func (s *subscriptionService) checkoutTarget(ctx context.Context, userID, packageID string) (*model.User, *model.Package, error) {
	pkg, err := s.packageRepo.FindByID(ctx, packageID)
	if err != nil {
		s.logger.Error().Err(err).Str("package_id", packageID).Msg("Failed to fetch package")
		return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if pkg == nil || !pkg.IsActive || pkg.StripePriceID == "" {
		return nil, nil, fmt.Errorf("%w: package %s is not available", ErrNotFound, packageID)
	}
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user")
		return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return nil, nil, fmt.Errorf("%w: no billing customer for user %s", ErrNotFound, userID)
	}
	return user, pkg, nil
}

func (s *subscriptionService) checkout(ctx context.Context, user *model.User, pkg *model.Package, intent CheckoutIntent) (*CheckoutResult, error) {
	used, err := s.subRepo.HasUsedTrial(ctx, user.UserID, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	eligible := !used && s.trialDays > 0

	params := billing.CheckoutParams{
		CustomerID: *user.StripeCustomerID,
		PriceID:    pkg.StripePriceID,
		Metadata: map[string]string{
			"user_id":        user.UserID,
			"package_id":     pkg.ID,
			"trial_eligible": strconv.FormatBool(eligible),
			"intent":         string(intent),
		},
	}
	if eligible {
		params.TrialDays = s.trialDays
	}
	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	s.logger.Info().
		Str("user_id", user.UserID).
		Str("package_id", pkg.ID).
		Str("intent", string(intent)).
		Bool("trial_eligible", eligible).
		Msg("Checkout session created")
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL, TrialEligible: eligible, Intent: intent}, nil
}
