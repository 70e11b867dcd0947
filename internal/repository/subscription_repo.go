package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yogaflow/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCurrentSubscriptionExists is returned when a write would give a user a
// second active or trialing ledger row.
var ErrCurrentSubscriptionExists = errors.New("user already has a current subscription")

const uniqueViolation = "23505"

// SubscriptionRepository is the subscription ledger. Rows are never deleted.
type SubscriptionRepository interface {
	// GetCurrentByUser returns the user's active or trialing row, or nil.
	GetCurrentByUser(ctx context.Context, userID string) (*model.Subscription, error)
	ListCurrentByUser(ctx context.Context, userID string) ([]model.Subscription, error)
	// GetUpdatableByGatewayID returns the newest row for the gateway subscription that
	// a subscription.updated event may reconcile in place, or nil.
	GetUpdatableByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error)
	// GetByGatewayID returns the newest row for the gateway subscription in any state, or nil.
	GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error)
	GetLatestByUser(ctx context.Context, userID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]model.Subscription, error)
	// HasUsedTrial reports whether any row of the user, other than excludeID, ever carried a trial start.
	HasUsedTrial(ctx context.Context, userID, excludeID string) (bool, error)
	Insert(ctx context.Context, s *model.Subscription) error
	// ReplaceCurrent deactivates oldID, zeroing its period, and inserts next in one transaction.
	ReplaceCurrent(ctx context.Context, oldID string, next *model.Subscription) error
	// UpdateInPlace rewrites the gateway-mirrored fields of an existing row.
	UpdateInPlace(ctx context.Context, s *model.Subscription) error
	// TransitionStatus moves row id to `to` only while it is in one of from.
	// It reports whether a row changed.
	TransitionStatus(ctx context.Context, id string, to model.SubscriptionStatus, from []model.SubscriptionStatus) (bool, error)
	// CancelByGatewayID marks every live row of the gateway subscription as cancel.
	CancelByGatewayID(ctx context.Context, gatewaySubscriptionID string) (int64, error)
	// ExpireLapsed marks rows whose period ended before cutoff as expired and
	// returns the affected user ids.
	ExpireLapsed(ctx context.Context, cutoff time.Time) ([]string, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, package_id, stripe_subscription_id, stripe_customer_id,
	price_cents, transaction_id, status, current_period_start, current_period_end,
	trial_start, trial_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	var status string
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PackageID,
		&s.GatewaySubscriptionID,
		&s.GatewayCustomerID,
		&s.PriceCents,
		&s.TransactionID,
		&status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.TrialStart,
		&s.TrialEnd,
		&s.CancelAtPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func (r *subscriptionRepo) getOne(ctx context.Context, q string, args ...any) (*model.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *subscriptionRepo) list(ctx context.Context, q string, args ...any) ([]model.Subscription, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func statusStrings(in []model.SubscriptionStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (r *subscriptionRepo) GetCurrentByUser(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`
	s, err := r.getOne(ctx, q, userID, statusStrings(model.CurrentStatuses))
	if err != nil {
		return nil, fmt.Errorf("fetch current subscription for user %s: %w", userID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) ListCurrentByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND status = ANY($2)`
	subs, err := r.list(ctx, q, userID, statusStrings(model.CurrentStatuses))
	if err != nil {
		return nil, fmt.Errorf("list current subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

func (r *subscriptionRepo) GetUpdatableByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE stripe_subscription_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`
	s, err := r.getOne(ctx, q, gatewaySubscriptionID, statusStrings(model.UpdatableStatuses))
	if err != nil {
		return nil, fmt.Errorf("fetch updatable subscription %s: %w", gatewaySubscriptionID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE stripe_subscription_id = $1
		ORDER BY created_at DESC LIMIT 1`
	s, err := r.getOne(ctx, q, gatewaySubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", gatewaySubscriptionID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) GetLatestByUser(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 1`
	s, err := r.getOne(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch latest subscription for user %s: %w", userID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC`
	subs, err := r.list(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

func (r *subscriptionRepo) HasUsedTrial(ctx context.Context, userID, excludeID string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE user_id = $1 AND trial_start IS NOT NULL AND id <> $2
		)`
	var used bool
	if err := r.pool.QueryRow(ctx, q, userID, excludeID).Scan(&used); err != nil {
		return false, fmt.Errorf("check trial history for user %s: %w", userID, err)
	}
	return used, nil
}

const insertSubscriptionQ = `
	INSERT INTO subscriptions (id, user_id, package_id, stripe_subscription_id, stripe_customer_id,
		price_cents, transaction_id, status, current_period_start, current_period_end,
		trial_start, trial_end, cancel_at_period_end)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING created_at, updated_at`

func insertArgs(s *model.Subscription) []any {
	return []any{
		s.ID, s.UserID, s.PackageID, s.GatewaySubscriptionID, s.GatewayCustomerID,
		s.PriceCents, s.TransactionID, string(s.Status), s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialStart, s.TrialEnd, s.CancelAtPeriodEnd,
	}
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrCurrentSubscriptionExists
	}
	return err
}

func (r *subscriptionRepo) Insert(ctx context.Context, s *model.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, insertSubscriptionQ, insertArgs(s)...).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription for user %s: %w", s.UserID, mapWriteErr(err))
	}
	return nil
}

func (r *subscriptionRepo) ReplaceCurrent(ctx context.Context, oldID string, next *model.Subscription) error {
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("starting transaction for package change: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const deactivateQ = `
		UPDATE subscriptions
		SET status = 'deactivated',
		    current_period_start = NULL,
		    current_period_end = NULL,
		    updated_at = NOW()
		WHERE id = $1`
	if _, err := tx.Exec(ctx, deactivateQ, oldID); err != nil {
		return fmt.Errorf("deactivating subscription %s: %w", oldID, err)
	}
	if err := tx.QueryRow(ctx, insertSubscriptionQ, insertArgs(next)...).Scan(&next.CreatedAt, &next.UpdatedAt); err != nil {
		return fmt.Errorf("inserting replacement subscription for user %s: %w", next.UserID, mapWriteErr(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing package change for user %s: %w", next.UserID, err)
	}
	return nil
}

func (r *subscriptionRepo) UpdateInPlace(ctx context.Context, s *model.Subscription) error {
	const q = `
		UPDATE subscriptions
		SET status = $2,
		    price_cents = $3,
		    transaction_id = $4,
		    current_period_start = $5,
		    current_period_end = $6,
		    trial_start = $7,
		    trial_end = $8,
		    cancel_at_period_end = $9,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q,
		s.ID,
		string(s.Status),
		s.PriceCents,
		s.TransactionID,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.TrialStart,
		s.TrialEnd,
		s.CancelAtPeriodEnd,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", s.ID, mapWriteErr(err))
	}
	return nil
}

func (r *subscriptionRepo) TransitionStatus(ctx context.Context, id string, to model.SubscriptionStatus, from []model.SubscriptionStatus) (bool, error) {
	const q = `
		UPDATE subscriptions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3) AND status <> $2`
	tag, err := r.pool.Exec(ctx, q, id, string(to), statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("set subscription %s to %s: %w", id, to, mapWriteErr(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *subscriptionRepo) CancelByGatewayID(ctx context.Context, gatewaySubscriptionID string) (int64, error) {
	const q = `
		UPDATE subscriptions
		SET status = 'cancel', updated_at = NOW()
		WHERE stripe_subscription_id = $1
		  AND status NOT IN ('cancel', 'expired', 'deactivated')`
	tag, err := r.pool.Exec(ctx, q, gatewaySubscriptionID)
	if err != nil {
		return 0, fmt.Errorf("cancel subscription %s: %w", gatewaySubscriptionID, err)
	}
	return tag.RowsAffected(), nil
}

func (r *subscriptionRepo) ExpireLapsed(ctx context.Context, cutoff time.Time) ([]string, error) {
	const q = `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE status NOT IN ('expired', 'deactivated')
		  AND current_period_end IS NOT NULL
		  AND current_period_end < $1
		RETURNING user_id`
	rows, err := r.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire lapsed subscriptions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan expired subscriptions: %w", err)
	}
	return ids, nil
}
