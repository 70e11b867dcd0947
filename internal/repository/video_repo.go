package repository

import (
	"context"
	"errors"
	"fmt"

	"yogaflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type VideoRepository interface {
	GetVideoByID(ctx context.Context, id string) (*model.Video, error)
}

type videoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) VideoRepository {
	return &videoRepo{pool: pool}
}

func (r *videoRepo) GetVideoByID(ctx context.Context, id string) (*model.Video, error) {
	const q = `SELECT id, category_id, title, storage_key, is_premium, duration_sec, created_at FROM videos WHERE id = $1`
	var v model.Video
	err := r.pool.QueryRow(ctx, q, id).Scan(&v.ID, &v.CategoryID, &v.Title, &v.StorageKey, &v.IsPremium, &v.DurationSec, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch video %s: %w", id, err)
	}
	return &v, nil
}
