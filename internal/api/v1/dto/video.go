package dto

import "time"

type StreamResponse struct {
	VideoID   string    `json:"video_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
