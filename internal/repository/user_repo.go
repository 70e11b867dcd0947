package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yogaflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository stores user accounts and their access flags.
type UserRepository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
	// UpdateAccess applies a partial update of the access flags and returns the stored user.
	UpdateAccess(ctx context.Context, userID string, upd model.AccessUpdate) (*model.User, error)
	// ListUserIDsByRole returns the ids of every account holding role.
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
	// ListLapsedTrialUserIDs returns users still flagged as in trial whose trial ended before now.
	ListLapsedTrialUserIDs(ctx context.Context, now time.Time) ([]string, error)
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `user_id, name, email, role, stripe_customer_id, is_subscribed, is_free_trial,
	has_access, trial_expire_at, package_name, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.UserID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.StripeCustomerID,
		&u.IsSubscribed,
		&u.IsFreeTrial,
		&u.HasAccess,
		&u.TrialExpireAt,
		&u.PackageName,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) CreateUser(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	query := `INSERT INTO users (user_id, name, email, role)
              VALUES ($1, $2, $3, $4) RETURNING ` + userColumns
	created, err := scanUser(r.pool.QueryRow(ctx, query, u.UserID, u.Name, u.Email, u.Role))
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UserID, err)
	}
	*u = *created
	return nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, fmt.Errorf("fetch user by email: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID))
	if err != nil {
		return nil, fmt.Errorf("fetch user by stripe customer %s: %w", customerID, err)
	}
	return u, nil
}

func (r *userRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, q, userID, customerID); err != nil {
		return fmt.Errorf("update stripe customer for user %s: %w", userID, err)
	}
	return nil
}

func (r *userRepo) UpdateAccess(ctx context.Context, userID string, upd model.AccessUpdate) (*model.User, error) {
	q := `
		UPDATE users
		SET is_subscribed   = COALESCE($2::boolean, is_subscribed),
		    is_free_trial   = COALESCE($3::boolean, is_free_trial),
		    has_access      = COALESCE($4::boolean, has_access),
		    trial_expire_at = CASE WHEN $5::boolean THEN NULL ELSE COALESCE($6::timestamptz, trial_expire_at) END,
		    package_name    = COALESCE($7::text, package_name),
		    updated_at      = NOW()
		WHERE user_id = $1
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q,
		userID,
		upd.IsSubscribed,
		upd.IsFreeTrial,
		upd.HasAccess,
		upd.ClearTrialExpiry,
		upd.TrialExpireAt,
		upd.PackageName,
	))
	if err != nil {
		return nil, fmt.Errorf("update access for user %s: %w", userID, err)
	}
	return u, nil
}

func (r *userRepo) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	return r.listIDs(ctx, `SELECT user_id FROM users WHERE role = $1 ORDER BY user_id`, role)
}

func (r *userRepo) ListLapsedTrialUserIDs(ctx context.Context, now time.Time) ([]string, error) {
	return r.listIDs(ctx, `SELECT user_id FROM users WHERE is_free_trial AND trial_expire_at <= $1`, now)
}

func (r *userRepo) listIDs(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user ids: %w", err)
	}
	return ids, nil
}
