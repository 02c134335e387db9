package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/messaging"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/scheduler"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
)

var (
	_ command.Recorder          = (*Metrics)(nil)
	_ messaging.HandlerObserver = (*Metrics)(nil)
	_ scheduler.Observer        = (*Metrics)(nil)
)

// value returns the sample of name whose labels include want.
func value(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, s := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range s.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case s.GetCounter() != nil:
				return s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				return s.GetGauge().GetValue()
			case s.GetHistogram() != nil:
				return float64(s.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return 0
}

func TestMetrics_Engine(t *testing.T) {
	m := New(nil)

	m.EventProcessed("task", "task_completed", "applied")
	m.EventProcessed("task", "task_completed", "applied")
	m.EventProcessed("karaoke", "sang", "applied")
	m.XPApplied("task", 30)
	m.XPApplied("task", -10)
	m.XPApplied("task", 0)
	m.ApplyConflict()
	m.AchievementsPending(2)
	m.AchievementsPending(0)
	m.AchievementClaimed("streak_7")

	assert.Equal(t, 2.0, value(t, m, "progress_events_processed_total", map[string]string{"source": "task", "outcome": "applied"}))
	assert.Equal(t, 1.0, value(t, m, "progress_events_processed_total", map[string]string{"source": "other"}))
	assert.Equal(t, 30.0, value(t, m, "progress_xp_awarded_total", map[string]string{"source": "task"}))
	assert.Equal(t, 10.0, value(t, m, "progress_xp_reverted_total", map[string]string{"source": "task"}))
	assert.Equal(t, 1.0, value(t, m, "progress_apply_conflicts_total", nil))
	assert.Equal(t, 2.0, value(t, m, "progress_achievements_pending_total", nil))
	assert.Equal(t, 1.0, value(t, m, "progress_achievements_claimed_total", map[string]string{"achievement": "streak_7"}))
}

func TestMetrics_HandlersRequestsAndBreaker(t *testing.T) {
	m := New(nil)

	m.ObserveHandler(shared.EventLevelUp, 3*time.Millisecond, true)
	m.ObserveHandler(shared.EventLevelUp, time.Millisecond, false)
	m.ObserveRequest("/api/v1/events", http.MethodPost, http.StatusOK, 20*time.Millisecond)
	m.BreakerStateChanged("notifications", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	m.ObserveJob("compact_history", 2*time.Second, true)
	m.ObserveJob("compact_history", time.Second, false)

	assert.Equal(t, 2.0, value(t, m, "progress_event_handler_duration_seconds", map[string]string{"event_type": "progress.level_up"}))
	assert.Equal(t, 1.0, value(t, m, "progress_event_handler_failures_total", nil))
	assert.Equal(t, 1.0, value(t, m, "progress_http_request_duration_seconds", map[string]string{"status": "200"}))
	assert.Equal(t, 1.0, value(t, m, "progress_circuit_breaker_state", map[string]string{"name": "notifications"}))
	assert.Equal(t, 1.0, value(t, m, "progress_job_duration_seconds", map[string]string{"job": "compact_history", "outcome": "failure"}))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ApplyConflict()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "progress_apply_conflicts_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
