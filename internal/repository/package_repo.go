package repository

import (
	"context"
	"errors"
	"fmt"

	"yogaflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PackageRepository is the package catalog.
type PackageRepository interface {
	FindActiveByPriceID(ctx context.Context, priceID string) (*model.Package, error)
	FindByID(ctx context.Context, id string) (*model.Package, error)
	ListActive(ctx context.Context) ([]model.Package, error)
}

type packageRepo struct {
	pool *pgxpool.Pool
}

func NewPackageRepo(pool *pgxpool.Pool) PackageRepository {
	return &packageRepo{pool: pool}
}

const packageColumns = `id, name, description, price_cents, billing_interval, stripe_price_id,
	stripe_product_id, is_active, created_at, updated_at`

func scanPackage(row pgx.Row) (*model.Package, error) {
	var p model.Package
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.PriceCents,
		&p.Interval,
		&p.StripePriceID,
		&p.StripeProductID,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *packageRepo) FindActiveByPriceID(ctx context.Context, priceID string) (*model.Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE stripe_price_id = $1 AND is_active LIMIT 1`
	p, err := scanPackage(r.pool.QueryRow(ctx, q, priceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch package by price %s: %w", priceID, err)
	}
	return p, nil
}

func (r *packageRepo) FindByID(ctx context.Context, id string) (*model.Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1`
	p, err := scanPackage(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch package %s: %w", id, err)
	}
	return p, nil
}

func (r *packageRepo) ListActive(ctx context.Context) ([]model.Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE is_active ORDER BY price_cents`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []model.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
