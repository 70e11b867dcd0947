package handler

import (
	"net/http"

	"yogaflow/internal/api/v1/dto"
	"yogaflow/internal/model"
	"yogaflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type UserHandler struct {
	userService service.UserService
	validate    *validator.Validate
	logger      zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService service.UserService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{userService: userService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/me", h.createUser)
	r.Get("/users/me", h.getUser)
}

func (h *UserHandler) createUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.UserCreateDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, err := h.userService.Signup(r.Context(), userID, req.Email, req.Name)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse(u), h.logger)
}

func (h *UserHandler) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	u, err := h.userService.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, userResponse(u), h.logger)
}

func userResponse(u *model.User) dto.UserResponseDTO {
	return dto.UserResponseDTO{
		UserID:        u.UserID,
		Name:          u.Name,
		Email:         u.Email,
		IsSubscribed:  u.IsSubscribed,
		IsFreeTrial:   u.IsFreeTrial,
		HasAccess:     u.HasAccess,
		TrialExpireAt: u.TrialExpireAt,
		PackageName:   u.PackageName,
		CreatedAt:     u.CreatedAt,
	}
}
