package service

import (
	"context"
	"fmt"
	"time"

	"yogaflow/internal/repository"
	"yogaflow/internal/storage"

	"github.com/rs/zerolog"
)

// StreamLink is a short-lived URL for playing a video.
type StreamLink struct {
	VideoID   string    `json:"video_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VideoService interface {
	// StreamURL returns a playback link, checking access first for premium videos.
	StreamURL(ctx context.Context, userID, videoID string) (*StreamLink, error)
}

type videoService struct {
	videoRepo repository.VideoRepository
	access    AccessService
	presigner storage.Presigner
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewVideoService(videoRepo repository.VideoRepository, access AccessService, presigner storage.Presigner, ttl time.Duration, logger zerolog.Logger) VideoService {
	return &videoService{
		videoRepo: videoRepo,
		access:    access,
		presigner: presigner,
		ttl:       ttl,
		logger:    logger.With().Str("service", "VideoService").Logger(),
		now:       time.Now,
	}
}

func (s *videoService) StreamURL(ctx context.Context, userID, videoID string) (*StreamLink, error) {
	v, err := s.videoRepo.GetVideoByID(ctx, videoID)
	if err != nil {
		s.logger.Error().Err(err).Str("video_id", videoID).Msg("Failed to fetch video")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: video %s", ErrNotFound, videoID)
	}
	if v.IsPremium {
		if _, err := s.access.RequireAccess(ctx, userID); err != nil {
			return nil, err
		}
	}

	url, err := s.presigner.PresignGet(ctx, v.StorageKey, s.ttl)
	if err != nil {
		s.logger.Error().Err(err).Str("video_id", videoID).Msg("Failed to presign video URL")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return &StreamLink{VideoID: v.ID, URL: url, ExpiresAt: s.now().Add(s.ttl).UTC()}, nil
}
