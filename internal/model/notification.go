package model

import "time"

// NotificationKind names the reason a notification is sent.
type NotificationKind string

const (
	NotifyAutoRenewalSuccess    NotificationKind = "auto_renewal_success"
	NotifyPaymentFailed         NotificationKind = "payment_failed"
	NotifyPaymentActionRequired NotificationKind = "payment_action_required"
	NotifyTrialWillEnd          NotificationKind = "trial_will_end"
	NotifySubscriptionExpired   NotificationKind = "subscription_expired"
)

// NotificationTarget selects the receivers of a notification: one user, or
// every account holding a role.
type NotificationTarget struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

// ToUser targets a single user.
func ToUser(userID string) NotificationTarget { return NotificationTarget{UserID: userID} }

// ToRole targets every account with the given role.
func ToRole(role string) NotificationTarget { return NotificationTarget{Role: role} }

// Notification is the message written to the outbox and later published.
type Notification struct {
	ID        string             `json:"id"`
	Target    NotificationTarget `json:"target"`
	Kind      NotificationKind   `json:"kind"`
	Payload   map[string]any     `json:"payload,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
