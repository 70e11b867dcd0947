// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Billing webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	AccessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_checks_total",
		Help: "Access evaluations by result.",
	}, []string{"result"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Notification outbox messages by outcome.",
	}, []string{"outcome"})

	SubscriptionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_expired_total",
		Help: "Ledger rows moved to expired by the sweeper.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
