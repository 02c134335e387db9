// Package metrics provides Prometheus metrics for the progress engine:
// event outcomes, XP flow, apply retries, achievement transitions, event
// handler latency, HTTP latency and notification breaker state.
package metrics

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
)

// Namespace prefixes every metric name.
const Namespace = "progress"

// otherLabel replaces label values outside the known set.
const otherLabel = "other"

// DefaultSources are the event sources kept as label values.
var DefaultSources = []string{"task", "nutrition", "weight", "achievement"}

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry
	sources  []string

	eventsProcessed     *prometheus.CounterVec
	xpAwarded           *prometheus.CounterVec
	xpReverted          *prometheus.CounterVec
	applyConflicts      prometheus.Counter
	achievementsPending prometheus.Counter
	achievementsClaimed *prometheus.CounterVec
	handlerDuration     *prometheus.HistogramVec
	handlerFailures     *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	breakerState        *prometheus.GaugeVec
	jobDuration         *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors. sources limits the source label; nil selects
// DefaultSources.
func New(sources []string) *Metrics {
	if sources == nil {
		sources = DefaultSources
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sources:  slices.Clone(sources),

		eventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_processed_total",
			Help:      "Progress events by source and outcome.",
		}, []string{"source", "outcome"}),

		xpAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "xp_awarded_total",
			Help:      "XP added to user totals.",
		}, []string{"source"}),

		xpReverted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "xp_reverted_total",
			Help:      "XP removed from user totals by reversals.",
		}, []string{"source"}),

		applyConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "apply_conflicts_total",
			Help:      "Optimistic version conflicts that triggered a retry.",
		}),

		achievementsPending: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "achievements_pending_total",
			Help:      "Achievements moved from locked to pending.",
		}),

		achievementsClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "achievements_claimed_total",
			Help:      "Achievements moved from pending to claimed.",
		}, []string{"achievement"}),

		handlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"event_type"}),

		handlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handler errors and panics.",
		}, []string{"event_type"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),

		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),

		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration in seconds.",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900},
		}, []string{"job", "outcome"}),
	}
}

// Registry returns the registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) source(s string) string {
	if slices.Contains(m.sources, s) {
		return s
	}
	return otherLabel
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// EventProcessed counts an event outcome. The action is not a label.
func (m *Metrics) EventProcessed(source, _ string, outcome string) {
	m.eventsProcessed.WithLabelValues(m.source(source), outcome).Inc()
}

// XPApplied adds amount to the awarded or reverted counter by sign.
func (m *Metrics) XPApplied(source string, amount int) {
	switch {
	case amount > 0:
		m.xpAwarded.WithLabelValues(m.source(source)).Add(float64(amount))
	case amount < 0:
		m.xpReverted.WithLabelValues(m.source(source)).Add(float64(-amount))
	}
}

// ApplyConflict counts a version conflict.
func (m *Metrics) ApplyConflict() {
	m.applyConflicts.Inc()
}

// AchievementsPending counts newly pending achievements.
func (m *Metrics) AchievementsPending(n int) {
	if n > 0 {
		m.achievementsPending.Add(float64(n))
	}
}

// AchievementClaimed counts a claim. Catalog ids are a bounded set.
func (m *Metrics) AchievementClaimed(id string) {
	m.achievementsClaimed.WithLabelValues(id).Inc()
}

// ─── Event bus ──────────────────────────────────────────────────────────────

// ObserveHandler records one handler execution.
func (m *Metrics) ObserveHandler(eventType shared.EventType, d time.Duration, ok bool) {
	m.handlerDuration.WithLabelValues(string(eventType)).Observe(d.Seconds())
	if !ok {
		m.handlerFailures.WithLabelValues(string(eventType)).Inc()
	}
}

// ─── HTTP ───────────────────────────────────────────────────────────────────

// ObserveRequest records one HTTP request. route is the matched pattern.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// ─── Circuit breaker ────────────────────────────────────────────────────────

// BreakerStateChanged matches circuitbreaker.Config.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// ObserveJob implements scheduler.Observer.
func (m *Metrics) ObserveJob(jobName string, d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.jobDuration.WithLabelValues(jobName, outcome).Observe(d.Seconds())
}
