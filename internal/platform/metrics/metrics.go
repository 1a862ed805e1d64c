// Package metrics holds the Prometheus collectors for the approval engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine collectors.
type Metrics struct {
	DocumentsCreated *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	Cancellations    *prometheus.CounterVec
	LockWait         *prometheus.HistogramVec
	BudgetSpends     *prometheus.CounterVec
	NotifyDropped    prometheus.Counter
	NotifyPublished  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DocumentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "documents_created_total",
			Help:      "Approval documents created, by document type.",
		}, []string{"type"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "decisions_total",
			Help:      "Approval decisions processed, by decision and outcome code.",
		}, []string{"decision", "outcome"}),
		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "cancellations_total",
			Help:      "Cancellation requests, by outcome code.",
		}, []string{"outcome"}),
		LockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approvals",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a document lease.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"acquired"}),
		BudgetSpends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "budget_spends_total",
			Help:      "Budget ledger spend attempts on final approval, by result.",
		}, []string{"result"}),
		NotifyDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the dispatch queue was full.",
		}),
		NotifyPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "notifications_published_total",
			Help:      "Notifications handed to the publisher, by kind and result.",
		}, []string{"kind", "result"}),
	}
}

// ObserveLockWait records how long a lease acquisition took.
func (m *Metrics) ObserveLockWait(started time.Time, acquired bool) {
	if m == nil {
		return
	}
	label := "false"
	if acquired {
		label = "true"
	}
	m.LockWait.WithLabelValues(label).Observe(time.Since(started).Seconds())
}
