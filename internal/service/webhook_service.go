package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yogaflow/internal/billing"
	"yogaflow/internal/idempotency"
	"yogaflow/internal/metrics"
	"yogaflow/internal/model"
	"yogaflow/internal/repository"

	"github.com/rs/zerolog"
)

// WebhookService reconciles the local ledger and access flags with billing events.
type WebhookService interface {
	// HandleEvent applies a verified event. Errors are already logged; the
	// caller acknowledges the delivery regardless.
	HandleEvent(ctx context.Context, ev *billing.Event) error
}

type eventHandler func(ctx context.Context, ev *billing.Event, log zerolog.Logger) error

type webhookService struct {
	userRepo    repository.UserRepository
	subRepo     repository.SubscriptionRepository
	packageRepo repository.PackageRepository
	gateway     billing.Gateway
	notifier    NotificationService
	dedupe      idempotency.Store
	maxAttempts int64
	logger      zerolog.Logger
	now         func() time.Time
}

// NewWebhookService builds the reconciler. dedupe may be nil.
func NewWebhookService(
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	packageRepo repository.PackageRepository,
	gateway billing.Gateway,
	notifier NotificationService,
	dedupe idempotency.Store,
	maxAttempts int64,
	logger zerolog.Logger,
) WebhookService {
	return &webhookService{
		userRepo:    userRepo,
		subRepo:     subRepo,
		packageRepo: packageRepo,
		gateway:     gateway,
		notifier:    notifier,
		dedupe:      dedupe,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("service", "WebhookService").Logger(),
		now:         time.Now,
	}
}

func (s *webhookService) handlerFor(eventType string) (eventHandler, bool) {
	switch eventType {
	case billing.EventSubscriptionCreated:
		return s.handleCreated, true
	case billing.EventSubscriptionUpdated:
		return s.handleUpdated, true
	case billing.EventSubscriptionDeleted:
		return s.handleDeleted, true
	case billing.EventTrialWillEnd:
		return s.handleTrialWillEnd, true
	case billing.EventPaymentFailed:
		return s.handlePaymentFailed, true
	case billing.EventPaymentActionRequired:
		return s.handlePaymentActionRequired, true
	}
	return nil, false
}

func (s *webhookService) HandleEvent(ctx context.Context, ev *billing.Event) error {
	log := s.logger.With().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("subscription_id", ev.SubscriptionID()).
		Logger()

	handle, ok := s.handlerFor(ev.Type)
	if !ok {
		log.Info().Msg("Ignoring unhandled webhook event type")
		metrics.WebhookEvents.WithLabelValues(ev.Type, metrics.OutcomeIgnored).Inc()
		return nil
	}

	if s.dedupe != nil {
		claimed, err := s.dedupe.Claim(ctx, ev.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Event dedupe unavailable, continuing")
		case !claimed:
			log.Info().Msg("Duplicate webhook delivery")
			metrics.WebhookEvents.WithLabelValues(ev.Type, metrics.OutcomeDuplicate).Inc()
			return nil
		}
	}

	err := handle(ctx, ev, log)
	switch {
	case err == nil:
		metrics.WebhookEvents.WithLabelValues(ev.Type, metrics.OutcomeProcessed).Inc()
		return nil
	case errors.Is(err, ErrConflict):
		log.Info().Err(err).Msg("Event already reconciled")
		metrics.WebhookEvents.WithLabelValues(ev.Type, metrics.OutcomeDuplicate).Inc()
		return nil
	default:
		log.Error().Err(err).Msg("Failed to reconcile webhook event")
		metrics.WebhookEvents.WithLabelValues(ev.Type, metrics.OutcomeFailed).Inc()
		return err
	}
}

func (s *webhookService) handleCreated(ctx context.Context, ev *billing.Event, log zerolog.Logger) error {
	snap := ev.Subscription
	if snap == nil {
		return fmt.Errorf("%w: event carries no subscription", ErrBadRequest)
	}
	user, err := s.resolveUser(ctx, snap.CustomerID, "")
	if err != nil {
		return err
	}
	pkg, err := s.resolvePackage(ctx, snap.PriceID)
	if err != nil {
		return err
	}

	existing, err := s.subRepo.GetByGatewayID(ctx, snap.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if existing != nil {
		return fmt.Errorf("%w: subscription %s already recorded as %s", ErrConflict, snap.ID, existing.Status)
	}
	current, err := s.subRepo.GetCurrentByUser(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if current != nil {
		return fmt.Errorf("%w: user %s already has current subscription %s", ErrConflict, user.UserID, current.GatewaySubscriptionID)
	}

	return s.insertRow(ctx, user, pkg, snap, log)
}

func (s *webhookService) insertRow(ctx context.Context, user *model.User, pkg *model.Package, snap *billing.SubscriptionSnapshot, log zerolog.Logger) error {
	status, err := ledgerStatus(snap.Status)
	if err != nil {
		return err
	}
	eligible, err := s.trialEligible(ctx, user.UserID, "", status, snap)
	if err != nil {
		return err
	}
	row := buildRow(user, pkg, snap, status, eligible)
	if err := s.subRepo.Insert(ctx, row); err != nil {
		if errors.Is(err, repository.ErrCurrentSubscriptionExists) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	log.Info().
		Str("user_id", user.UserID).
		Str("package_id", pkg.ID).
		Str("status", string(row.Status)).
		Bool("trial", eligible).
		Msg("Recorded new subscription")

	return s.applyAccess(ctx, user, accessFor(row.Status, pkg.Name, row.TrialEnd))
}

func (s *webhookService) handleUpdated(ctx context.Context, ev *billing.Event, log zerolog.Logger) error {
	snap := ev.Subscription
	if snap == nil {
		return fmt.Errorf("%w: event carries no subscription", ErrBadRequest)
	}
	user, err := s.resolveUser(ctx, snap.CustomerID, "")
	if err != nil {
		return err
	}
	pkg, err := s.resolvePackage(ctx, snap.PriceID)
	if err != nil {
		return err
	}
	status, err := ledgerStatus(snap.Status)
	if err != nil {
		return err
	}

	row, err := s.subRepo.GetUpdatableByGatewayID(ctx, snap.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if row == nil {
		return s.lateCreate(ctx, user, pkg, snap, log)
	}

	if row.PackageID != pkg.ID {
		eligible, err := s.trialEligible(ctx, user.UserID, row.ID, status, snap)
		if err != nil {
			return err
		}
		next := buildRow(user, pkg, snap, status, eligible)
		if err := s.subRepo.ReplaceCurrent(ctx, row.ID, next); err != nil {
			if errors.Is(err, repository.ErrCurrentSubscriptionExists) {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		log.Info().
			Str("user_id", user.UserID).
			Str("old_package_id", row.PackageID).
			Str("new_package_id", pkg.ID).
			Str("status", string(next.Status)).
			Msg("Package changed")
		return s.applyAccess(ctx, user, accessFor(next.Status, pkg.Name, next.TrialEnd))
	}

	prev := row.Status
	eligible, err := s.trialEligible(ctx, user.UserID, row.ID, status, snap)
	if err != nil {
		return err
	}
	if status == model.StatusTrialing && !eligible {
		status = model.StatusActive
	}
	row.Status = status
	row.PriceCents = priceOf(snap, pkg)
	if snap.LatestInvoiceID != "" {
		row.TransactionID = snap.LatestInvoiceID
	}
	row.CurrentPeriodStart = timePtr(snap.CurrentPeriodStart)
	row.CurrentPeriodEnd = timePtr(snap.CurrentPeriodEnd)
	row.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	if eligible {
		row.TrialStart = trialStartOf(snap)
		row.TrialEnd = snap.TrialEnd
	}
	if err := s.subRepo.UpdateInPlace(ctx, row); err != nil {
		if errors.Is(err, repository.ErrCurrentSubscriptionExists) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	log.Info().
		Str("user_id", user.UserID).
		Str("from_status", string(prev)).
		Str("to_status", string(row.Status)).
		Msg("Subscription updated")

	if err := s.applyAccess(ctx, user, accessFor(row.Status, pkg.Name, row.TrialEnd)); err != nil {
		return err
	}

	renewed := prev == model.StatusTrialing && row.Status == model.StatusActive &&
		(snap.TrialEnd == nil || !snap.TrialEnd.After(s.now()))
	if renewed {
		s.notify(ctx, log, model.ToUser(user.UserID), model.NotifyAutoRenewalSuccess, map[string]any{
			"package_name":       pkg.Name,
			"current_period_end": snap.CurrentPeriodEnd,
		})
	}
	return nil
}

// lateCreate records a subscription first seen through an update event.
func (s *webhookService) lateCreate(ctx context.Context, user *model.User, pkg *model.Package, snap *billing.SubscriptionSnapshot, log zerolog.Logger) error {
	prior, err := s.subRepo.GetByGatewayID(ctx, snap.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if prior != nil {
		return fmt.Errorf("%w: subscription %s is already %s", ErrConflict, snap.ID, prior.Status)
	}

	current, err := s.subRepo.GetCurrentByUser(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	log.Info().Str("user_id", user.UserID).Msg("No ledger row for updated subscription, recording it")
	if current == nil {
		return s.insertRow(ctx, user, pkg, snap, log)
	}

	status, err := ledgerStatus(snap.Status)
	if err != nil {
		return err
	}
	eligible, err := s.trialEligible(ctx, user.UserID, "", status, snap)
	if err != nil {
		return err
	}
	next := buildRow(user, pkg, snap, status, eligible)
	if err := s.subRepo.ReplaceCurrent(ctx, current.ID, next); err != nil {
		if errors.Is(err, repository.ErrCurrentSubscriptionExists) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	log.Info().Str("user_id", user.UserID).Str("replaced_subscription_id", current.GatewaySubscriptionID).Msg("Superseded current subscription")
	return s.applyAccess(ctx, user, accessFor(next.Status, pkg.Name, next.TrialEnd))
}

func (s *webhookService) handleDeleted(ctx context.Context, ev *billing.Event, log zerolog.Logger) error {
	snap := ev.Subscription
	if snap == nil {
		return fmt.Errorf("%w: event carries no subscription", ErrBadRequest)
	}
	n, err := s.subRepo.CancelByGatewayID(ctx, snap.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: subscription %s already closed", ErrConflict, snap.ID)
	}
	log.Info().Int64("rows", n).Msg("Subscription cancelled")
	return nil
}

func (s *webhookService) handlePaymentFailed(ctx context.Context, ev *billing.Event, log zerolog.Logger) error {
	inv := ev.Invoice
	if inv == nil {
		return fmt.Errorf("%w: event carries no invoice", ErrBadRequest)
	}
	if inv.SubscriptionID == "" {
		return fmt.Errorf("%w: invoice %s has no subscription", ErrBadRequest, inv.ID)
	}
	user, err := s.resolveUser(ctx, inv.CustomerID, inv.CustomerEmail)
	if err != nil {
		return err
	}
	row, err := s.subRepo.GetByGatewayID(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if row == nil {
		return fmt.Errorf("%w: no ledger row for subscription %s", ErrNotFound, inv.SubscriptionID)
	}
	if row.UserID != user.UserID {
		return fmt.Errorf("%w: subscription %s belongs to another user", ErrBadRequest, inv.SubscriptionID)
	}

	if !row.Status.IsUpdatable() {
		log.Info().
			Str("user_id", user.UserID).
			Str("status", string(row.Status)).
			Msg("Payment failed on a subscription that is no longer live, access unchanged")
		return fmt.Errorf("%w: subscription %s is already %s", ErrConflict, inv.SubscriptionID, row.Status)
	}

	changed, err := s.subRepo.TransitionStatus(ctx, row.ID, model.StatusPastDue, model.UpdatableStatuses)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	final := inv.AttemptCount >= s.maxAttempts || inv.NextPaymentAttempt == nil
	upd := model.AccessUpdate{HasAccess: boolPtr(false)}
	if user.IsFreeTrial {
		upd.IsFreeTrial = boolPtr(false)
		upd.ClearTrialExpiry = true
	}
	if final {
		upd.IsSubscribed = boolPtr(false)
	}
	if err := s.applyAccess(ctx, user, upd); err != nil {
		return err
	}
	log.Warn().
		Str("user_id", user.UserID).
		Int64("attempt_count", inv.AttemptCount).
		Bool("final_attempt", final).
		Bool("status_changed", changed).
		Msg("Payment failed, access revoked")

	s.notify(ctx, log, model.ToUser(user.UserID), model.NotifyPaymentFailed, map[string]any{
		"invoice_id":         inv.ID,
		"attempt_count":      inv.AttemptCount,
		"final_attempt":      final,
		"amount_due_cents":   inv.AmountDueCents,
		"hosted_invoice_url": inv.HostedInvoiceURL,
	})
	return nil
}

func (s *webhookService) handlePaymentActionRequired(ctx context.Context, ev *billing.Event, log zerolog.Logger) error {
	inv := ev.Invoice
	if inv == nil {
		return fmt.Errorf("%w: event carries no invoice", ErrBadRequest)
	}
	user, err := s.resolveUser(ctx, inv.CustomerID, inv.CustomerEmail)
	if err != nil {
		return err
	}
	s.notify(ctx, log, model.ToUser(user.UserID), model.NotifyPaymentActionRequired, map[string]any{
		"invoice_id":         inv.ID,
		"amount_due_cents":   inv.AmountDueCents,
		"hosted_invoice_url": inv.HostedInvoiceURL,
	})
	return nil
}

func (s *webhookService) handleTrialWillEnd(ctx context.Context, ev *billing.Event, log zerolog.Logger) error {
	snap := ev.Subscription
	if snap == nil {
		return fmt.Errorf("%w: event carries no subscription", ErrBadRequest)
	}
	user, err := s.resolveUser(ctx, snap.CustomerID, "")
	if err != nil {
		return err
	}
	s.notify(ctx, log, model.ToUser(user.UserID), model.NotifyTrialWillEnd, map[string]any{
		"trial_end": snap.TrialEnd,
	})
	return nil
}

// resolveUser finds the local user behind a gateway customer, first by stored
// customer id and then by billing email.
func (s *webhookService) resolveUser(ctx context.Context, customerID, email string) (*model.User, error) {
	if customerID != "" {
		u, err := s.userRepo.GetUserByStripeCustomerID(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if u != nil {
			return u, nil
		}
		if email == "" {
			cust, err := s.gateway.GetCustomer(ctx, customerID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInternal, err)
			}
			if cust != nil {
				email = cust.Email
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("%w: no billing email for customer %s", ErrNotFound, customerID)
	}

	u, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: no user for customer %s", ErrNotFound, customerID)
	}
	if customerID != "" && u.StripeCustomerID == nil {
		if err := s.userRepo.UpdateStripeCustomerID(ctx, u.UserID, customerID); err != nil {
			s.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to link Stripe customer")
		} else {
			u.StripeCustomerID = &customerID
		}
	}
	return u, nil
}

func (s *webhookService) resolvePackage(ctx context.Context, priceID string) (*model.Package, error) {
	pkg, err := s.packageRepo.FindActiveByPriceID(ctx, priceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if pkg == nil {
		return nil, fmt.Errorf("%w: no active package for price %q", ErrNotFound, priceID)
	}
	return pkg, nil
}

// trialEligible grants a trial only when the gateway reports one and the user
// never had a row with a trial start, ignoring excludeID.
func (s *webhookService) trialEligible(ctx context.Context, userID, excludeID string, status model.SubscriptionStatus, snap *billing.SubscriptionSnapshot) (bool, error) {
	if status != model.StatusTrialing || snap.TrialEnd == nil {
		return false, nil
	}
	used, err := s.subRepo.HasUsedTrial(ctx, userID, excludeID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return !used, nil
}

func (s *webhookService) applyAccess(ctx context.Context, user *model.User, upd model.AccessUpdate) error {
	if upd.Empty() {
		return nil
	}
	next := upd.Apply(*user)
	if err := next.ValidateAccess(); err != nil {
		return fmt.Errorf("%w: refusing access update for user %s: %v", ErrInternal, user.UserID, err)
	}
	updated, err := s.userRepo.UpdateAccess(ctx, user.UserID, upd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if updated != nil {
		*user = *updated
	}
	return nil
}

func (s *webhookService) notify(ctx context.Context, log zerolog.Logger, target model.NotificationTarget, kind model.NotificationKind, payload map[string]any) {
	if err := s.notifier.Notify(ctx, target, kind, payload); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to send notification")
	}
}

// ledgerStatus maps a gateway subscription status onto the ledger.
func ledgerStatus(gateway string) (model.SubscriptionStatus, error) {
	switch gateway {
	case "trialing":
		return model.StatusTrialing, nil
	case "active":
		return model.StatusActive, nil
	case "past_due":
		return model.StatusPastDue, nil
	case "unpaid":
		return model.StatusUnpaid, nil
	case "incomplete":
		return model.StatusIncomplete, nil
	case "canceled":
		return model.StatusCancel, nil
	case "incomplete_expired":
		return model.StatusExpired, nil
	case "paused":
		return model.StatusDeactivated, nil
	}
	return "", fmt.Errorf("%w: unknown subscription status %q", ErrBadRequest, gateway)
}

// accessFor returns the access flags a row in status implies.
func accessFor(status model.SubscriptionStatus, packageName string, trialEnd *time.Time) model.AccessUpdate {
	switch status {
	case model.StatusTrialing:
		return model.AccessUpdate{
			IsSubscribed:  boolPtr(true),
			HasAccess:     boolPtr(true),
			IsFreeTrial:   boolPtr(true),
			TrialExpireAt: trialEnd,
			PackageName:   &packageName,
		}
	case model.StatusActive:
		return model.AccessUpdate{
			IsSubscribed:     boolPtr(true),
			HasAccess:        boolPtr(true),
			IsFreeTrial:      boolPtr(false),
			ClearTrialExpiry: true,
			PackageName:      &packageName,
		}
	case model.StatusPastDue:
		return model.AccessUpdate{
			HasAccess:        boolPtr(false),
			IsFreeTrial:      boolPtr(false),
			ClearTrialExpiry: true,
		}
	case model.StatusUnpaid, model.StatusExpired, model.StatusDeactivated:
		return model.AccessUpdate{
			IsSubscribed:     boolPtr(false),
			HasAccess:        boolPtr(false),
			IsFreeTrial:      boolPtr(false),
			ClearTrialExpiry: true,
		}
	}
	return model.AccessUpdate{}
}

// buildRow creates a ledger row from the gateway snapshot. A trialing status
// without trial eligibility is recorded as active with no trial fields.
func buildRow(user *model.User, pkg *model.Package, snap *billing.SubscriptionSnapshot, status model.SubscriptionStatus, trialEligible bool) *model.Subscription {
	row := &model.Subscription{
		UserID:                user.UserID,
		PackageID:             pkg.ID,
		GatewaySubscriptionID: snap.ID,
		GatewayCustomerID:     snap.CustomerID,
		PriceCents:            priceOf(snap, pkg),
		TransactionID:         snap.LatestInvoiceID,
		Status:                status,
		CurrentPeriodStart:    timePtr(snap.CurrentPeriodStart),
		CurrentPeriodEnd:      timePtr(snap.CurrentPeriodEnd),
		CancelAtPeriodEnd:     snap.CancelAtPeriodEnd,
	}
	if status == model.StatusTrialing {
		if trialEligible {
			row.TrialStart = trialStartOf(snap)
			row.TrialEnd = snap.TrialEnd
		} else {
			row.Status = model.StatusActive
		}
	}
	return row
}

func priceOf(snap *billing.SubscriptionSnapshot, pkg *model.Package) int64 {
	if snap.PriceCents > 0 {
		return snap.PriceCents
	}
	return pkg.PriceCents
}

func trialStartOf(snap *billing.SubscriptionSnapshot) *time.Time {
	if snap.TrialStart != nil {
		return snap.TrialStart
	}
	return timePtr(snap.CurrentPeriodStart)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolPtr(b bool) *bool { return &b }
