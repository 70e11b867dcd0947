package dto

import "time"

// PackageRequest selects the target package of a checkout, upgrade or renewal.
type PackageRequest struct {
	PackageID string `json:"package_id" validate:"required,max=64"`
}

type CheckoutResponse struct {
	SessionID     string `json:"session_id"`
	URL           string `json:"url"`
	TrialEligible bool   `json:"trial_eligible"`
	Intent        string `json:"intent,omitempty"`
}

type URLResponse struct {
	URL string `json:"url"`
}

type SubscriptionResponse struct {
	ID                 string     `json:"id"`
	PackageID          string     `json:"package_id"`
	Status             string     `json:"status"`
	PriceCents         int64      `json:"price_cents"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialStart         *time.Time `json:"trial_start,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CreatedAt          time.Time  `json:"created_at"`
}

type PackageResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Interval    string `json:"interval"`
}

type AccessResponse struct {
	HasAccess     bool   `json:"has_access"`
	IsSubscribed  bool   `json:"is_subscribed"`
	IsInTrial     bool   `json:"is_in_trial"`
	DaysRemaining int    `json:"days_remaining"`
	PackageName   string `json:"package_name"`
	Reason        string `json:"reason,omitempty"`
}
