package model

import "time"

// SubscriptionStatus is the lifecycle state of a ledger row.
type SubscriptionStatus string

const (
	StatusActive      SubscriptionStatus = "active"
	StatusTrialing    SubscriptionStatus = "trialing"
	StatusPastDue     SubscriptionStatus = "past_due"
	StatusCancel      SubscriptionStatus = "cancel"
	StatusExpired     SubscriptionStatus = "expired"
	StatusDeactivated SubscriptionStatus = "deactivated"
	StatusUnpaid      SubscriptionStatus = "unpaid"
	StatusIncomplete  SubscriptionStatus = "incomplete"
)

// CurrentStatuses are the states of which a user may hold at most one row.
var CurrentStatuses = []SubscriptionStatus{StatusActive, StatusTrialing}

// UpdatableStatuses are the states a subscription.updated event may reconcile in place.
var UpdatableStatuses = []SubscriptionStatus{StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusIncomplete}

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCancel,
		StatusExpired, StatusDeactivated, StatusUnpaid, StatusIncomplete:
		return true
	}
	return false
}

// IsCurrent reports whether s counts toward the one-current-row-per-user invariant.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == StatusActive || s == StatusTrialing
}

// IsUpdatable reports whether a row in state s can be reconciled in place.
func (s SubscriptionStatus) IsUpdatable() bool {
	for _, u := range UpdatableStatuses {
		if s == u {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the row no longer follows the gateway.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusDeactivated
}

// Subscription is one ledger row: a single subscription lifecycle instance of a
// user on one package. Rows are never deleted.
type Subscription struct {
	ID                    string             `db:"id" json:"id"`
	UserID                string             `db:"user_id" json:"user_id"`
	PackageID             string             `db:"package_id" json:"package_id"`
	GatewaySubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	GatewayCustomerID     string             `db:"stripe_customer_id" json:"stripe_customer_id"`
	PriceCents            int64              `db:"price_cents" json:"price_cents"`
	TransactionID         string             `db:"transaction_id" json:"transaction_id"`
	Status                SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart    *time.Time         `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	TrialStart            *time.Time         `db:"trial_start" json:"trial_start,omitempty"`
	TrialEnd              *time.Time         `db:"trial_end" json:"trial_end,omitempty"`
	CancelAtPeriodEnd     bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// HadTrial reports whether the row was created inside a trial window.
func (s *Subscription) HadTrial() bool {
	return s.TrialStart != nil
}

// Package is a purchasable plan mirrored from a gateway product/price pair.
type Package struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Description     string    `db:"description" json:"description"`
	PriceCents      int64     `db:"price_cents" json:"price_cents"`
	Interval        string    `db:"billing_interval" json:"interval"`
	StripePriceID   string    `db:"stripe_price_id" json:"stripe_price_id"`
	StripeProductID string    `db:"stripe_product_id" json:"stripe_product_id"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
