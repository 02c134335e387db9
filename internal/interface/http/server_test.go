package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/query"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/memory"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/interface/http/handlers"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/logger"
)

type fakeMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *fakeMetrics) ObserveRequest(route, method string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

func (m *fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("progress_up 1\n"))
	})
}

func (m *fakeMetrics) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.routes...)
}

type testServer struct {
	handler http.Handler
	metrics *fakeMetrics
	health  *handlers.CompositeHealthChecker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.New()
	rules, err := xprules.NewCalculator(xprules.DefaultTable())
	require.NoError(t, err)
	catalog := achievement.DefaultCatalog()
	levels := progress.DefaultCalculator()

	engine := command.NewEngine(command.EngineConfig{
		Repo:    store,
		Levels:  levels,
		Catalog: catalog,
		Logger:  logger.Discard(),
	})

	ts := &testServer{
		metrics: &fakeMetrics{},
		health:  handlers.NewCompositeHealthChecker("test"),
	}
	ts.health.AddCheck("store", handlers.NewStoreCheck(store))

	srv := NewServer(DefaultConfig(), Dependencies{
		ProcessEvent: command.NewProcessEventHandler(engine, rules, nil, command.ProcessEventHandlerConfig{Location: time.UTC}),
		RevertAward:  command.NewRevertAwardHandler(engine),
		Claim:        command.NewClaimAchievementHandler(engine, rules, catalog),
		Overview:     query.NewGetProgressOverviewHandler(store, levels, nil, logger.Discard()),
		Ranks:        query.NewGetRankReportHandler(store, levels),
		History:      query.NewGetHistoryHandler(store, store, time.UTC, time.Now),
		Achievements: query.NewGetAchievementBoardHandler(store, catalog),
		Health:       ts.health,
		Metrics:      ts.metrics,
		Logger:       logger.Discard(),
	})
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, JSONResponse, json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(handlers.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var envelope struct {
		JSONResponse
		Data json.RawMessage `json:"data"`
	}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope.JSONResponse, envelope.Data
}

func taskEvent(token string) EventRequest {
	return EventRequest{
		Token:  token,
		Source: xprules.SourceTask,
		Action: xprules.ActionTaskCompleted,
		Context: xprules.Context{
			Category:   "push",
			Difficulty: xprules.DifficultyMedium,
		},
	}
}

func TestServer_RequiresUserID(t *testing.T) {
	ts := newTestServer(t)

	rec, resp, _ := ts.do(t, http.MethodGet, "/api/v1/progress", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)
}

func TestServer_ProcessEventAndReplay(t *testing.T) {
	ts := newTestServer(t)

	rec, resp, data := ts.do(t, http.MethodPost, "/api/v1/events", "user-1", taskEvent("tok-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)

	var first command.ProcessEventResult
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, "tok-1", first.Token)
	assert.Equal(t, "user-1", first.UserID)
	assert.Positive(t, first.XPAwarded)
	assert.False(t, first.Replayed)

	rec, _, data = ts.do(t, http.MethodPost, "/api/v1/events", "user-1", taskEvent("tok-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var replay command.ProcessEventResult
	require.NoError(t, json.Unmarshal(data, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.TotalXP, replay.TotalXP)

	rec, _, data = ts.do(t, http.MethodGet, "/api/v1/progress", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview query.ProgressOverviewDTO
	require.NoError(t, json.Unmarshal(data, &overview))
	assert.Equal(t, first.TotalXP, overview.TotalXP)
}

func TestServer_ProcessEventValidation(t *testing.T) {
	ts := newTestServer(t)

	ev := taskEvent("tok-1")
	ev.Source = ""
	rec, resp, _ := ts.do(t, http.MethodPost, "/api/v1/events", "user-1", ev)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", resp.Error.Code)

	rec, _, _ = ts.do(t, http.MethodPost, "/api/v1/events", "user-1", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _, _ = ts.do(t, http.MethodPost, "/api/v1/events", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RevertAward(t *testing.T) {
	ts := newTestServer(t)

	_, _, data := ts.do(t, http.MethodPost, "/api/v1/events", "user-1", taskEvent("tok-1"))
	var awarded command.ProcessEventResult
	require.NoError(t, json.Unmarshal(data, &awarded))

	rec, _, data := ts.do(t, http.MethodPost, "/api/v1/events/revert", "user-1", awarded.Reversal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reverted command.RevertAwardResult
	require.NoError(t, json.Unmarshal(data, &reverted))
	assert.Equal(t, -awarded.XPAwarded, reverted.XPReverted)
	assert.Zero(t, reverted.TotalXP)

	rec, resp, _ := ts.do(t, http.MethodPost, "/api/v1/events/revert", "user-1", awarded.Reversal)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", resp.Error.Code)

	rec, _, _ = ts.do(t, http.MethodPost, "/api/v1/events/revert", "user-2", awarded.Reversal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Claim(t *testing.T) {
	ts := newTestServer(t)

	rec, _, data := ts.do(t, http.MethodPost, "/api/v1/achievements/level_5/claim", "user-1", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	var res command.ClaimAchievementResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, achievement.ClaimOutcomeRequirementsNotMet, res.Outcome)
	assert.NotEmpty(t, res.Unmet)

	rec, resp, _ := ts.do(t, http.MethodPost, "/api/v1/achievements/no_such/claim", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestServer_Reads(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/events", "user-1", taskEvent("tok-1"))

	rec, _, data := ts.do(t, http.MethodGet, "/api/v1/progress/ranks", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ranks query.RankReportDTO
	require.NoError(t, json.Unmarshal(data, &ranks))

	rec, _, data = ts.do(t, http.MethodGet, "/api/v1/progress/history?from=2000-01-01&limit=10", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var hist query.HistoryDTO
	require.NoError(t, json.Unmarshal(data, &hist))
	require.Len(t, hist.Transactions, 1)
	assert.Equal(t, "tok-1", hist.Transactions[0].Token)

	rec, _, _ = ts.do(t, http.MethodGet, "/api/v1/progress/history?from=yesterday", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _, _ = ts.do(t, http.MethodGet, "/api/v1/progress/history?limit=ten", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _, data = ts.do(t, http.MethodGet, "/api/v1/achievements", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board query.AchievementBoardDTO
	require.NoError(t, json.Unmarshal(data, &board))
	assert.NotEmpty(t, board.Entries)

	rec, _, _ = ts.do(t, http.MethodGet, "/api/v1/achievements?state=shiny", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec, resp, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	ts.health.AddCheck("redis", func(context.Context) error { return errors.New("down") })
	rec, _, _ = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _, _ = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "progress_up 1")

	ts.do(t, http.MethodPost, "/api/v1/achievements/level_5/claim", "user-1", nil)
	rec, _, _ = ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seen := ts.metrics.seen()
	assert.Contains(t, seen, "POST /api/v1/achievements/{id}/claim 409")
	assert.Contains(t, seen, "GET unmatched 404")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrMissingSource, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", shared.ErrInvalidUserID), http.StatusBadRequest},
		{shared.ErrAchievementNotFound, http.StatusNotFound},
		{shared.ErrDuplicateToken, http.StatusConflict},
		{shared.ErrAlreadyReverse, http.StatusConflict},
		{shared.WrapError("progress", "Apply", shared.ErrTransient, "gave up", shared.ErrVersionConflict), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
