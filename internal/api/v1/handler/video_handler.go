package handler

import (
	"net/http"

	"yogaflow/internal/api/v1/dto"
	"yogaflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type VideoHandler struct {
	videoSvc service.VideoService
	logger   zerolog.Logger
}

// NewVideoHandler creates a new VideoHandler.
func NewVideoHandler(videoSvc service.VideoService, logger zerolog.Logger) *VideoHandler {
	return &VideoHandler{videoSvc: videoSvc, logger: logger}
}

func (h *VideoHandler) RegisterRoutes(r chi.Router) {
	r.Get("/videos/{videoId}/stream", h.Stream)
}

// Stream godoc
// @Summary Get a short-lived playback URL
// @Description Premium videos require an active subscription or a running trial.
// @Tags videos
// @Produce json
// @Param videoId path string true "Video ID"
// @Success 200 {object} dto.StreamResponse
// @Failure 402 {object} map[string]string "payment required"
// @Failure 404 {object} map[string]string "video not found"
// @Router /videos/{videoId}/stream [get]
func (h *VideoHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	link, err := h.videoSvc.StreamURL(r.Context(), userID, chi.URLParam(r, "videoId"))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.StreamResponse{VideoID: link.VideoID, URL: link.URL, ExpiresAt: link.ExpiresAt}, h.logger)
}
