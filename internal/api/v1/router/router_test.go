package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"yogaflow/internal/api/v1/handler"
	"yogaflow/internal/billing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type rejectAll struct{}

func (rejectAll) ConstructEvent([]byte, string) (*billing.Event, error) {
	return nil, billing.ErrInvalidSignature
}

type noopWebhooks struct{}

func (noopWebhooks) HandleEvent(context.Context, *billing.Event) error { return nil }

func testRouter() http.Handler {
	return New(Options{JWTSecret: "secret", AllowedOrigins: []string{"https://app.test"}}, Handlers{
		Webhook: handler.NewWebhookHandler(rejectAll{}, noopWebhooks{}, zerolog.Nop()),
	}, zerolog.Nop())
}

func TestHealthAndMetrics(t *testing.T) {
	h := testRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebhookRouteSkipsBearerAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reaches signature verification, not auth")
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/subscriptions/checkout", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	testRouter().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
