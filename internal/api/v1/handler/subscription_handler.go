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

// SubscriptionHandler handles checkout, portal and access endpoints.
type SubscriptionHandler struct {
	subSvc    service.SubscriptionService
	accessSvc service.AccessService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subSvc service.SubscriptionService, accessSvc service.AccessService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subSvc: subSvc, accessSvc: accessSvc, validate: v, logger: logger}
}

// RegisterRoutes mounts the subscription endpoints on an authenticated router.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/packages", h.ListPackages)
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Post("/renew", h.CreateOrRenew)
		r.Post("/upgrade", h.Upgrade)
		r.Post("/cancel", h.Cancel)
		r.Get("/portal", h.Portal)
		r.Get("/history", h.History)
		r.Get("/access", h.Access)
	})
}

// Checkout godoc
// @Summary Start a checkout session for a package
// @Description Creates a Stripe Checkout session. First-time subscribers get the free trial.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param package body dto.PackageRequest true "Package to subscribe to"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} map[string]string "invalid request or already subscribed"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {object} map[string]string "package not found"
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.PackageRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	res, err := h.subSvc.StartCheckout(r.Context(), userID, req.PackageID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(res), h.logger)
}

// CreateOrRenew godoc
// @Summary Subscribe, renew or switch package
// @Description Classifies the request as new, renewal or package change and returns a checkout session.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param package body dto.PackageRequest true "Package to subscribe to"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} map[string]string "already subscribed"
// @Failure 401 {string} string "unauthorized"
// @Router /subscriptions/renew [post]
func (h *SubscriptionHandler) CreateOrRenew(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.PackageRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	res, err := h.subSvc.CreateOrRenew(r.Context(), userID, req.PackageID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(res), h.logger)
}

// Upgrade godoc
// @Summary Move the current subscription to another package
// @Description Returns a billing portal URL opened on the subscription update flow.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param package body dto.PackageRequest true "Target package"
// @Success 200 {object} dto.URLResponse
// @Failure 404 {object} map[string]string "no current subscription"
// @Router /subscriptions/upgrade [post]
func (h *SubscriptionHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.PackageRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	url, err := h.subSvc.Upgrade(r.Context(), userID, req.PackageID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url}, h.logger)
}

// Cancel godoc
// @Summary Cancel the current subscription
// @Description Cancels at the gateway and marks the ledger row as cancelled.
// @Tags subscriptions
// @Success 204
// @Failure 404 {object} map[string]string "no active subscription to cancel"
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.subSvc.Cancel(r.Context(), userID); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Portal godoc
// @Summary Create a billing portal session
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.URLResponse
// @Router /subscriptions/portal [get]
func (h *SubscriptionHandler) Portal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	url, err := h.subSvc.PortalSession(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url}, h.logger)
}

// History godoc
// @Summary List the user's subscriptions, newest first
// @Tags subscriptions
// @Produce json
// @Success 200 {array} dto.SubscriptionResponse
// @Router /subscriptions/history [get]
func (h *SubscriptionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	subs, err := h.subSvc.History(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	resp := make([]dto.SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, subscriptionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// Access godoc
// @Summary Evaluate the user's access to paid content
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.AccessResponse
// @Router /subscriptions/access [get]
func (h *SubscriptionHandler) Access(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.accessSvc.EvaluateAccess(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.AccessResponse{
		HasAccess:     res.HasAccess,
		IsSubscribed:  res.IsSubscribed,
		IsInTrial:     res.IsInTrial,
		DaysRemaining: res.DaysRemaining,
		PackageName:   res.PackageName,
		Reason:        string(res.Reason),
	}, h.logger)
}

// ListPackages godoc
// @Summary List purchasable packages
// @Tags subscriptions
// @Produce json
// @Success 200 {array} dto.PackageResponse
// @Router /packages [get]
func (h *SubscriptionHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.subSvc.ListPackages(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	resp := make([]dto.PackageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		resp = append(resp, dto.PackageResponse{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			PriceCents:  p.PriceCents,
			Interval:    p.Interval,
		})
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func checkoutResponse(res *service.CheckoutResult) dto.CheckoutResponse {
	return dto.CheckoutResponse{
		SessionID:     res.SessionID,
		URL:           res.URL,
		TrialEligible: res.TrialEligible,
		Intent:        string(res.Intent),
	}
}

func subscriptionResponse(s model.Subscription) dto.SubscriptionResponse {
	return dto.SubscriptionResponse{
		ID:                 s.ID,
		PackageID:          s.PackageID,
		Status:             string(s.Status),
		PriceCents:         s.PriceCents,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialStart:         s.TrialStart,
		TrialEnd:           s.TrialEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CreatedAt:          s.CreatedAt,
	}
}
