package model

import (
	"math"
	"time"
)

// DenialReason explains why an access check failed. It only selects the
// message shown to the user.
type DenialReason string

const (
	DenialNone               DenialReason = ""
	DenialTrialExpired       DenialReason = "trial_expired"
	DenialNeverSubscribed    DenialReason = "never_subscribed"
	DenialSubscriptionLapsed DenialReason = "subscription_lapsed"
)

// AccessResult is the evaluated access state of a user at a point in time.
type AccessResult struct {
	UserID        string       `json:"user_id"`
	HasAccess     bool         `json:"has_access"`
	IsSubscribed  bool         `json:"is_subscribed"`
	IsInTrial     bool         `json:"is_in_trial"`
	DaysRemaining int          `json:"days_remaining"`
	PackageName   string       `json:"package_name"`
	Reason        DenialReason `json:"reason,omitempty"`
}

// EvaluateAccess computes access from the user record and the user's current
// (active or trialing) ledger rows. Trialing rows never count as a paid
// subscription; trial access comes from the user record alone.
func EvaluateAccess(u User, current []Subscription, now time.Time) AccessResult {
	inTrial := u.InTrialAt(now)

	hasActive := false
	for _, s := range current {
		if s.Status == StatusActive {
			hasActive = true
			break
		}
	}

	res := AccessResult{
		UserID:       u.UserID,
		HasAccess:    u.HasAccess && (hasActive || inTrial),
		IsSubscribed: u.IsSubscribed,
		IsInTrial:    inTrial,
		PackageName:  u.PackageName,
	}
	if inTrial {
		res.DaysRemaining = int(math.Ceil(u.TrialExpireAt.Sub(now).Hours() / 24))
	}
	if !res.HasAccess {
		res.Reason = denialReason(u, now)
	}
	return res
}

func denialReason(u User, now time.Time) DenialReason {
	switch {
	case u.TrialExpireAt != nil && !u.TrialExpireAt.After(now):
		return DenialTrialExpired
	case u.PackageName == "" && !u.IsSubscribed:
		return DenialNeverSubscribed
	default:
		return DenialSubscriptionLapsed
	}
}
