// Package billing adapts the payment provider to the subscription domain.
// The rest of the application only sees the types in this file; the Stripe
// specifics live in stripe.go.
package billing

import (
	"context"
	"errors"
	"time"
)

// Event types the reconciler understands.
const (
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventTrialWillEnd          = "customer.subscription.trial_will_end"
	EventPaymentFailed         = "invoice.payment_failed"
	EventPaymentActionRequired = "invoice.payment_action_required"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a verified payload cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrNoSubscriptionItem is returned when a subscription carries no price item.
	ErrNoSubscriptionItem = errors.New("subscription has no items")
)

// SubscriptionSnapshot is the gateway's view of a subscription at event time.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	ItemID             string
	PriceCents         int64
	LatestInvoiceID    string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

// InvoiceSnapshot is the gateway's view of an invoice at event time.
type InvoiceSnapshot struct {
	ID                 string
	CustomerID         string
	CustomerEmail      string
	SubscriptionID     string
	AttemptCount       int64
	NextPaymentAttempt *time.Time
	AmountDueCents     int64
	HostedInvoiceURL   string
}

// Event is a verified and decoded webhook event.
type Event struct {
	ID             string
	Type           string
	Created        time.Time
	Subscription   *SubscriptionSnapshot
	Invoice        *InvoiceSnapshot
	PreviousStatus string
}

// SubscriptionID returns the gateway subscription the event refers to, if any.
func (e Event) SubscriptionID() string {
	switch {
	case e.Subscription != nil:
		return e.Subscription.ID
	case e.Invoice != nil:
		return e.Invoice.SubscriptionID
	}
	return ""
}

// Customer is a gateway customer.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CheckoutParams describes a subscription checkout session.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	TrialDays  int64
	Metadata   map[string]string
}

// CheckoutSession is the redirect target returned to the client.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalParams describes a billing-portal session. When SubscriptionID is set the
// session opens directly on that subscription's update flow.
type PortalParams struct {
	CustomerID     string
	SubscriptionID string
}

// Gateway is the outbound surface of the payment provider.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name, userID string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*SubscriptionSnapshot, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, p PortalParams) (string, error)
}

// EventVerifier verifies and decodes inbound webhook payloads.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (*Event, error)
}
