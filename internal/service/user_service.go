package service

import (
	"context"
	"fmt"

	"yogaflow/internal/billing"
	"yogaflow/internal/model"
	"yogaflow/internal/repository"

	"github.com/rs/zerolog"
)

type UserService interface {
	// Signup creates the user with every access flag off and links a billing
	// customer. Repeating it for an existing user only fills in a missing customer.
	Signup(ctx context.Context, userID, email, name string) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	gateway  billing.Gateway
	logger   zerolog.Logger
}

func NewUserService(userRepo repository.UserRepository, gateway billing.Gateway, logger zerolog.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		gateway:  gateway,
		logger:   logger.With().Str("service", "UserService").Logger(),
	}
}

func (s *userService) Signup(ctx context.Context, userID, email, name string) (*model.User, error) {
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if u == nil {
		taken, err := s.userRepo.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if taken != nil {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		u = &model.User{UserID: userID, Email: email, Name: name, Role: model.RoleUser}
		if err := s.userRepo.CreateUser(ctx, u); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create user")
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}

	if u.StripeCustomerID != nil {
		return u, nil
	}
	cust, err := s.gateway.CreateCustomer(ctx, u.Email, u.Name, u.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := s.userRepo.UpdateStripeCustomerID(ctx, u.UserID, cust.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.UserID).Str("customer_id", cust.ID).Msg("Failed to store Stripe customer")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	u.StripeCustomerID = &cust.ID
	return u, nil
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}
