package model

import "time"

// Video is a class recording. Premium videos require access.
type Video struct {
	ID          string    `db:"id" json:"id"`
	CategoryID  string    `db:"category_id" json:"category_id"`
	Title       string    `db:"title" json:"title"`
	StorageKey  string    `db:"storage_key" json:"-"`
	IsPremium   bool      `db:"is_premium" json:"is_premium"`
	DurationSec int       `db:"duration_sec" json:"duration_sec"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
