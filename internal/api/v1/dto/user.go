package dto

import "time"

// UserCreateDTO is used for incoming signup requests
type UserCreateDTO struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
}

// UserResponseDTO is returned in API responses
type UserResponseDTO struct {
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	IsSubscribed  bool       `json:"is_subscribed"`
	IsFreeTrial   bool       `json:"is_free_trial"`
	HasAccess     bool       `json:"has_access"`
	TrialExpireAt *time.Time `json:"trial_expire_at,omitempty"`
	PackageName   string     `json:"package_name"`
	CreatedAt     time.Time  `json:"created_at"`
}
