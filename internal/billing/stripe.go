package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds the keys and redirect targets of the Stripe account.
type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// StripeGateway implements Gateway and EventVerifier on top of stripe-go.
type StripeGateway struct {
	cfg    StripeConfig
	logger zerolog.Logger
}

// NewStripeGateway sets the global Stripe key and returns the adapter.
func NewStripeGateway(cfg StripeConfig, logger zerolog.Logger) *StripeGateway {
	stripe.Key = cfg.SecretKey
	return &StripeGateway{cfg: cfg, logger: logger.With().Str("service", "StripeGateway").Logger()}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name, userID string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: map[string]string{"user_id": userID},
	}
	params.Context = ctx
	cust, err := customerpkg.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe customer")
		return nil, fmt.Errorf("create stripe customer: %w", err)
	}
	return &Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name}, nil
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customerpkg.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe customer %s: %w", customerID, err)
	}
	if cust.Deleted {
		return nil, nil
	}
	return &Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name}, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscriptionpkg.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription %s: %w", subscriptionID, err)
	}
	return snapshotFromSubscription(sub)
}

// UpdateSubscriptionPrice swaps the price of the subscription's first item,
// prorating the difference.
func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*SubscriptionSnapshot, error) {
	current, err := g.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(current.ItemID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	sub, err := subscriptionpkg.Update(subscriptionID, params)
	if err != nil {
		g.logger.Error().Err(err).Str("subscription_id", subscriptionID).Str("price_id", priceID).Msg("Failed to update Stripe subscription price")
		return nil, fmt.Errorf("update stripe subscription %s: %w", subscriptionID, err)
	}
	return snapshotFromSubscription(sub)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscriptionpkg.Cancel(subscriptionID, params); err != nil {
		g.logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("Failed to cancel Stripe subscription")
		return fmt.Errorf("cancel stripe subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	subData := &stripe.CheckoutSessionSubscriptionDataParams{Metadata: p.Metadata}
	if p.TrialDays > 0 {
		subData.TrialPeriodDays = stripe.Int64(p.TrialDays)
	}
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(p.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(g.cfg.SuccessURL),
		CancelURL:          stripe.String(g.cfg.CancelURL),
		Metadata:           p.Metadata,
		SubscriptionData:   subData,
	}
	params.Context = ctx
	sess, err := checkoutsession.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("price_id", p.PriceID).Msg("Failed to create Stripe checkout session")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, p PortalParams) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(p.CustomerID),
		ReturnURL: stripe.String(g.cfg.PortalReturnURL),
	}
	if p.SubscriptionID != "" {
		params.FlowData = &stripe.BillingPortalSessionFlowDataParams{
			Type: stripe.String("subscription_update"),
			SubscriptionUpdate: &stripe.BillingPortalSessionFlowDataSubscriptionUpdateParams{
				Subscription: stripe.String(p.SubscriptionID),
			},
		}
	}
	params.Context = ctx
	sess, err := billingsession.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("customer_id", p.CustomerID).Msg("Failed to create Stripe billing portal session")
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the payload.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return DecodeEvent(ev)
}

// DecodeEvent maps a verified Stripe event onto the domain event. Event types
// the reconciler does not handle decode with no payload attached.
func DecodeEvent(ev stripe.Event) (*Event, error) {
	out := &Event{ID: ev.ID, Type: string(ev.Type), Created: unixTime(ev.Created)}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, ev.ID)
	}

	switch out.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted, EventTrialWillEnd:
		var ss stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &ss); err != nil {
			return nil, fmt.Errorf("%w: subscription payload: %v", ErrMalformedEvent, err)
		}
		snap, err := snapshotFromSubscription(&ss)
		if err != nil && !(errors.Is(err, ErrNoSubscriptionItem) && out.Type == EventSubscriptionDeleted) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Subscription = snap
		if prev, ok := ev.Data.PreviousAttributes["status"].(string); ok {
			out.PreviousStatus = prev
		}
	case EventPaymentFailed, EventPaymentActionRequired:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice payload: %v", ErrMalformedEvent, err)
		}
		out.Invoice = snapshotFromInvoice(&inv)
	}
	return out, nil
}

func snapshotFromSubscription(ss *stripe.Subscription) (*SubscriptionSnapshot, error) {
	if ss.ID == "" {
		return nil, errors.New("subscription id missing")
	}
	snap := &SubscriptionSnapshot{
		ID:                ss.ID,
		Status:            string(ss.Status),
		CancelAtPeriodEnd: ss.CancelAtPeriodEnd,
		Metadata:          ss.Metadata,
		TrialStart:        unixPtr(ss.TrialStart),
		TrialEnd:          unixPtr(ss.TrialEnd),
	}
	if ss.Customer != nil {
		snap.CustomerID = ss.Customer.ID
	}
	if ss.LatestInvoice != nil {
		snap.LatestInvoiceID = ss.LatestInvoice.ID
	}
	if ss.Items == nil || len(ss.Items.Data) == 0 {
		return snap, ErrNoSubscriptionItem
	}
	item := ss.Items.Data[0]
	snap.ItemID = item.ID
	snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
	snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	if item.Price != nil {
		snap.PriceID = item.Price.ID
		snap.PriceCents = item.Price.UnitAmount
	}
	return snap, nil
}

func snapshotFromInvoice(inv *stripe.Invoice) *InvoiceSnapshot {
	snap := &InvoiceSnapshot{
		ID:                 inv.ID,
		CustomerEmail:      inv.CustomerEmail,
		AttemptCount:       inv.AttemptCount,
		NextPaymentAttempt: unixPtr(inv.NextPaymentAttempt),
		AmountDueCents:     inv.AmountDue,
		HostedInvoiceURL:   inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		snap.CustomerID = inv.Customer.ID
	}
	if id := subscriptionIDFromParent(inv); id != "" {
		snap.SubscriptionID = id
		return snap
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Subscription != nil && line.Subscription.ID != "" {
				snap.SubscriptionID = line.Subscription.ID
				break
			}
		}
	}
	return snap
}

// subscriptionIDFromParent reads the subscription from the invoice's parent,
// which is set even when the line items are truncated.
func subscriptionIDFromParent(inv *stripe.Invoice) string {
	if inv.Parent != nil &&
		inv.Parent.SubscriptionDetails != nil &&
		inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
