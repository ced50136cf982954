// Package metrics exposes Prometheus collectors for the burn workflow,
// payout batches and the content calendar.
//
// All methods are safe on a nil *Metrics, so components built without
// metrics need no guards.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listburn"

// Metrics holds every collector.
type Metrics struct {
	burnsDetected  *prometheus.CounterVec
	burnsExecuted  prometheus.Counter
	burnFailures   prometheus.Counter
	pollFailures   prometheus.Counter
	pendingGauge   prometheus.Gauge
	scheduledGauge prometheus.Gauge
	lastTick       prometheus.Gauge
	payoutItems    *prometheus.CounterVec
	payoutTokens   prometheus.Counter
	payoutRuns     *prometheus.CounterVec
	postsPublished *prometheus.CounterVec
	gatherer       prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{gatherer: reg}

	m.burnsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "burns_detected_total",
		Help:      "Targets newly detected, by entry stage",
	}, []string{"stage"})
	m.burnsExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "burns_executed_total",
		Help:      "Burns confirmed on chain",
	})
	m.burnFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "burn_failures_total",
		Help:      "Failed burn attempts (retried on the next tick)",
	})
	m.pollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolution_poll_failures_total",
		Help:      "Resolution source queries that failed",
	})
	m.pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_approvals",
		Help:      "Burns awaiting approval",
	})
	m.scheduledGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_burns",
		Help:      "Approved burns not yet executed",
	})
	m.lastTick = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_tick_timestamp_seconds",
		Help:      "Unix timestamp of the last completed burn tick",
	})
	m.payoutItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payout_items_total",
		Help:      "Payout line items by program and outcome",
	}, []string{"program", "outcome"})
	m.payoutTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payout_tokens_total",
		Help:      "Whole tokens paid out",
	})
	m.payoutRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payout_runs_total",
		Help:      "Payout runs by result",
	}, []string{"result"})
	m.postsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_published_total",
		Help:      "Calendar posts by outcome",
	}, []string{"outcome"})

	reg.MustRegister(
		m.burnsDetected, m.burnsExecuted, m.burnFailures, m.pollFailures,
		m.pendingGauge, m.scheduledGauge, m.lastTick,
		m.payoutItems, m.payoutTokens, m.payoutRuns, m.postsPublished,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) BurnDetected(stage string) {
	if m == nil {
		return
	}
	m.burnsDetected.WithLabelValues(stage).Inc()
}

func (m *Metrics) BurnExecuted() {
	if m == nil {
		return
	}
	m.burnsExecuted.Inc()
}

func (m *Metrics) BurnFailed() {
	if m == nil {
		return
	}
	m.burnFailures.Inc()
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

// SetQueues records the sizes of the approval and execution queues.
func (m *Metrics) SetQueues(pending, scheduled int) {
	if m == nil {
		return
	}
	m.pendingGauge.Set(float64(pending))
	m.scheduledGauge.Set(float64(scheduled))
}

func (m *Metrics) TickCompleted(at time.Time) {
	if m == nil {
		return
	}
	m.lastTick.Set(float64(at.Unix()))
}

// PayoutItem counts one line item. outcome is "paid", "unconfirmed", "failed"
// or "skipped".
func (m *Metrics) PayoutItem(program, outcome string, tokens uint64) {
	if m == nil {
		return
	}
	m.payoutItems.WithLabelValues(program, outcome).Inc()
	if outcome == "paid" {
		m.payoutTokens.Add(float64(tokens))
	}
}

// PayoutRun counts a run. result is "dry_run", "completed" or "aborted".
func (m *Metrics) PayoutRun(result string) {
	if m == nil {
		return
	}
	m.payoutRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) PostPublished(ok bool) {
	if m == nil {
		return
	}
	outcome := "published"
	if !ok {
		outcome = "failed"
	}
	m.postsPublished.WithLabelValues(outcome).Inc()
}
