package router

import (
	"net/http"
	"time"

	"yogaflow/internal/api/v1/handler"
	"yogaflow/internal/metrics"
	"yogaflow/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Handlers are the v1 endpoint groups mounted by New.
type Handlers struct {
	User         *handler.UserHandler
	Subscription *handler.SubscriptionHandler
	Video        *handler.VideoHandler
	Webhook      *handler.WebhookHandler
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// New assembles the HTTP handler. Webhooks are unauthenticated and verified by
// signature; every other v1 route requires a bearer token.
func New(opts Options, h Handlers, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	authMiddleware := middleware.AuthMiddleware(opts.JWTSecret, logger)

	r.Route("/v1", func(r chi.Router) {
		if h.Webhook != nil {
			h.Webhook.RegisterRoutes(r)
		}
		r.Group(func(r chi.Router) {
			if opts.RequestTimeout > 0 {
				r.Use(chimw.Timeout(opts.RequestTimeout))
			}
			r.Use(authMiddleware)
			if h.User != nil {
				h.User.RegisterRoutes(r)
			}
			if h.Subscription != nil {
				h.Subscription.RegisterRoutes(r)
			}
			if h.Video != nil {
				h.Video.RegisterRoutes(r)
			}
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
