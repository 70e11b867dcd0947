package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yogaflow/internal/middleware"
	"yogaflow/internal/model"
	"yogaflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubscriptionService struct {
	checkout  *service.CheckoutResult
	url       string
	history   []model.Subscription
	err       error
	packageID string
}

func (s *stubSubscriptionService) StartCheckout(_ context.Context, _, packageID string) (*service.CheckoutResult, error) {
	s.packageID = packageID
	return s.checkout, s.err
}

func (s *stubSubscriptionService) Upgrade(_ context.Context, _, packageID string) (string, error) {
	s.packageID = packageID
	return s.url, s.err
}

func (s *stubSubscriptionService) Cancel(context.Context, string) error { return s.err }

func (s *stubSubscriptionService) CreateOrRenew(_ context.Context, _, packageID string) (*service.CheckoutResult, error) {
	s.packageID = packageID
	return s.checkout, s.err
}

func (s *stubSubscriptionService) PortalSession(context.Context, string) (string, error) {
	return s.url, s.err
}

func (s *stubSubscriptionService) History(context.Context, string) ([]model.Subscription, error) {
	return s.history, s.err
}

func (s *stubSubscriptionService) ListPackages(context.Context) ([]model.Package, error) {
	return []model.Package{{ID: "pkg_monthly", Name: "Monthly Flow", PriceCents: 1500}}, s.err
}

type stubAccessService struct {
	res *model.AccessResult
	err error
}

func (s *stubAccessService) EvaluateAccess(context.Context, string) (*model.AccessResult, error) {
	return s.res, s.err
}

func (s *stubAccessService) RequireAccess(context.Context, string) (*model.AccessResult, error) {
	return s.res, s.err
}

func subscriptionRouter(sub *stubSubscriptionService, access *stubAccessService) http.Handler {
	r := chi.NewRouter()
	NewSubscriptionHandler(sub, access, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop()).RegisterRoutes(r)
	return r
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, "u1"))
}

func TestCheckoutReturnsSession(t *testing.T) {
	sub := &stubSubscriptionService{checkout: &service.CheckoutResult{SessionID: "cs_1", URL: "https://checkout.test/cs_1", TrialEligible: true, Intent: service.IntentNew}}
	rec := httptest.NewRecorder()

	subscriptionRouter(sub, &stubAccessService{}).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscriptions/checkout", `{"package_id":"pkg_monthly"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pkg_monthly", sub.packageID)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cs_1", body["session_id"])
	assert.Equal(t, true, body["trial_eligible"])
}

func TestCheckoutValidatesPayload(t *testing.T) {
	sub := &stubSubscriptionService{}
	router := subscriptionRouter(sub, &stubAccessService{})

	for _, body := range []string{`{}`, `{"package_id":""}`, `not json`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/subscriptions/checkout", body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, sub.packageID)
}

func TestRequiresAuthenticatedUser(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", nil)
	subscriptionRouter(&stubSubscriptionService{}, &stubAccessService{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: no active subscription to cancel", service.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: nope", service.ErrBadRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: dup", service.ErrConflict), http.StatusConflict},
		{&service.AccessDeniedError{Reason: model.DenialTrialExpired}, http.StatusPaymentRequired},
		{fmt.Errorf("%w: db down", service.ErrInternal), http.StatusInternalServerError},
		{fmt.Errorf("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		subscriptionRouter(&stubSubscriptionService{err: tc.err}, &stubAccessService{}).
			ServeHTTP(rec, authedRequest(http.MethodPost, "/subscriptions/cancel", ""))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rec := httptest.NewRecorder()
	subscriptionRouter(&stubSubscriptionService{err: fmt.Errorf("%w: password=hunter2", service.ErrInternal)}, &stubAccessService{}).
		ServeHTTP(rec, authedRequest(http.MethodGet, "/subscriptions/portal", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestCancelReturnsNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	subscriptionRouter(&stubSubscriptionService{}, &stubAccessService{}).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscriptions/cancel", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAccessAndHistory(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := &stubSubscriptionService{history: []model.Subscription{{ID: "row_2", PackageID: "pkg_yearly", Status: model.StatusActive, CurrentPeriodEnd: &end}}}
	access := &stubAccessService{res: &model.AccessResult{HasAccess: false, Reason: model.DenialNeverSubscribed}}
	router := subscriptionRouter(sub, access)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/subscriptions/access", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"never_subscribed"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/subscriptions/history", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "active", rows[0]["status"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/packages", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Monthly Flow")
}

func TestPaymentRequiredBodyCarriesReason(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, &service.AccessDeniedError{Reason: model.DenialSubscriptionLapsed}, zerolog.Nop())

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscription_lapsed", body["reason"])
	assert.NotEmpty(t, body["error"])
}
