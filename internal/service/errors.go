package service

import (
	"errors"

	"yogaflow/internal/model"
)

// Error kinds returned by services. Concrete errors wrap one of these and the
// HTTP layer maps them to status codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrBadRequest      = errors.New("bad request")
	ErrConflict        = errors.New("conflict")
	ErrPaymentRequired = errors.New("payment required")
	ErrInternal        = errors.New("internal error")
)

// AccessDeniedError is returned when a user without access requests paid content.
type AccessDeniedError struct {
	Reason model.DenialReason
}

func (e *AccessDeniedError) Error() string {
	switch e.Reason {
	case model.DenialTrialExpired:
		return "your free trial has ended, subscribe to keep practicing"
	case model.DenialNeverSubscribed:
		return "subscribe to a package to unlock this class"
	default:
		return "your subscription is no longer active, renew it to continue"
	}
}

// Is makes AccessDeniedError match ErrPaymentRequired.
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrPaymentRequired
}
