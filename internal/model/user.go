package model

import (
	"errors"
	"time"
)

// Roles a user can hold. Notifications may target every account with a role.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents a user in the system together with the denormalized access
// flags content modules consult on every request.
type User struct {
	UserID           string     `db:"user_id" json:"user_id"`
	Name             string     `db:"name" json:"name"`
	Email            string     `db:"email" json:"email"`
	Role             string     `db:"role" json:"role"`
	StripeCustomerID *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	IsSubscribed     bool       `db:"is_subscribed" json:"is_subscribed"`
	IsFreeTrial      bool       `db:"is_free_trial" json:"is_free_trial"`
	HasAccess        bool       `db:"has_access" json:"has_access"`
	TrialExpireAt    *time.Time `db:"trial_expire_at" json:"trial_expire_at,omitempty"`
	PackageName      string     `db:"package_name" json:"package_name"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

var (
	ErrTrialWithoutExpiry = errors.New("free trial flag set without trial expiry")
	ErrAccessWithoutGrant = errors.New("access granted without subscription or running trial")
	ErrExpiryWithoutTrial = errors.New("trial expiry set outside a free trial")
)

// AccessUpdate is a partial update of the access flags. Nil fields are left
// untouched. ClearTrialExpiry wins over TrialExpireAt.
type AccessUpdate struct {
	IsSubscribed     *bool
	IsFreeTrial      *bool
	HasAccess        *bool
	TrialExpireAt    *time.Time
	ClearTrialExpiry bool
	PackageName      *string
}

// Apply returns a copy of u with the update applied.
func (a AccessUpdate) Apply(u User) User {
	if a.IsSubscribed != nil {
		u.IsSubscribed = *a.IsSubscribed
	}
	if a.IsFreeTrial != nil {
		u.IsFreeTrial = *a.IsFreeTrial
	}
	if a.HasAccess != nil {
		u.HasAccess = *a.HasAccess
	}
	if a.ClearTrialExpiry {
		u.TrialExpireAt = nil
	} else if a.TrialExpireAt != nil {
		t := *a.TrialExpireAt
		u.TrialExpireAt = &t
	}
	if a.PackageName != nil {
		u.PackageName = *a.PackageName
	}
	return u
}

// Empty reports whether the update changes nothing.
func (a AccessUpdate) Empty() bool {
	return a.IsSubscribed == nil && a.IsFreeTrial == nil && a.HasAccess == nil &&
		a.TrialExpireAt == nil && !a.ClearTrialExpiry && a.PackageName == nil
}

// ValidateAccess checks the structural invariants of the access flags:
// a free trial always carries an expiry and an expiry only exists during a trial.
func (u *User) ValidateAccess() error {
	if u.IsFreeTrial && u.TrialExpireAt == nil {
		return ErrTrialWithoutExpiry
	}
	if !u.IsFreeTrial && u.TrialExpireAt != nil {
		return ErrExpiryWithoutTrial
	}
	return nil
}

// ValidateAccessAt additionally checks that HasAccess is backed by a paying
// subscription or a trial that is still running at now.
func (u *User) ValidateAccessAt(now time.Time) error {
	if err := u.ValidateAccess(); err != nil {
		return err
	}
	if u.HasAccess && !u.IsSubscribed && !u.InTrialAt(now) {
		return ErrAccessWithoutGrant
	}
	return nil
}

// InTrialAt reports whether the trial window is open at now.
func (u *User) InTrialAt(now time.Time) bool {
	return u.IsFreeTrial && u.TrialExpireAt != nil && u.TrialExpireAt.After(now)
}
