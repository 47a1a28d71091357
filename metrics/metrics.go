/*
Package metrics exposes Prometheus collectors for the distribution engine.

Collectors are registered on the default registry at init via promauto;
cmd/server mounts promhttp.Handler() at /metrics.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Distributions counts Distribute calls by strategy and outcome
	// (assigned, empty, error).
	Distributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadengine",
		Name:      "distributions_total",
		Help:      "Lead distribution attempts by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// Assignments counts committed lead assignments.
	Assignments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadengine",
		Name:      "assignments_total",
		Help:      "Committed lead assignments.",
	})

	// AmountDebited accumulates wallet debits in currency units.
	AmountDebited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadengine",
		Name:      "debited_amount_total",
		Help:      "Total amount debited from buyer wallets.",
	})

	// RechargeAttempts counts auto-recharge attempts by outcome
	// (succeeded, declined, error).
	RechargeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadengine",
		Name:      "recharge_attempts_total",
		Help:      "Auto-recharge attempts by outcome.",
	}, []string{"outcome"})

	// NotificationFailures counts failed notification deliveries by channel.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadengine",
		Name:      "notification_failures_total",
		Help:      "Failed notification deliveries by channel.",
	}, []string{"channel"})

	// NotificationsDropped counts jobs dropped because the dispatcher
	// queue was full.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadengine",
		Name:      "notifications_dropped_total",
		Help:      "Notification jobs dropped due to a full queue.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
