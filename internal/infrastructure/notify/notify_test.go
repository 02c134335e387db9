package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/logger"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/retry"
)

var (
	_ notification.Sender = (*LogSender)(nil)
	_ notification.Sender = (*InboxSender)(nil)
	_ notification.Sender = (*WebhookSender)(nil)
	_ notification.Sender = Multi(nil)
	_ InboxClient         = (*redis.Client)(nil)
)

func levelUp(t *testing.T) *notification.Notification {
	t.Helper()
	n, err := notification.New("user-1", notification.TypeLevelUp, "Level 2!", "144 XP earned so far",
		time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	n.CorrelationID = "req-1"
	return n
}

// ─── Inbox ──────────────────────────────────────────────────────────────────

type fakeList struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	ttl     map[string]time.Duration
	pushErr error
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.pushErr != nil {
		cmd.SetErr(f.pushErr)
		return cmd
	}
	if f.lists == nil {
		f.lists, f.ttl = map[string][][]byte{}, map[string]time.Duration{}
	}
	for _, v := range values {
		f.lists[key] = append([][]byte{v.([]byte)}, f.lists[key]...)
	}
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeList) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if int64(len(l)) > stop+1 {
		f.lists[key] = l[start : stop+1]
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeList) Expire(ctx context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl[key] = d
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func TestInboxSender_PushesNewestFirstAndTrims(t *testing.T) {
	client := &fakeList{}
	s := NewInboxSender(client, InboxConfig{MaxItems: 2, TTL: time.Hour})

	for _, title := range []string{"one", "two", "three"} {
		n := levelUp(t)
		n.Title = title
		require.NoError(t, s.Send(context.Background(), n))
	}

	key := InboxKey("user-1")
	assert.Equal(t, "notifications:user-1", key)
	require.Len(t, client.lists[key], 2)
	assert.Equal(t, time.Hour, client.ttl[key])

	var newest notification.Notification
	require.NoError(t, json.Unmarshal(client.lists[key][0], &newest))
	assert.Equal(t, "three", newest.Title)
	assert.Equal(t, notification.TypeLevelUp, newest.Type)
	assert.Equal(t, "req-1", newest.CorrelationID)
}

func TestInboxSender_PushError(t *testing.T) {
	s := NewInboxSender(&fakeList{pushErr: errors.New("down")}, InboxConfig{})
	err := s.Send(context.Background(), levelUp(t))
	assert.ErrorContains(t, err, "down")
}

// ─── Webhook ────────────────────────────────────────────────────────────────

func newWebhook(t *testing.T, url string) *WebhookSender {
	t.Helper()
	s, err := NewWebhookSender(WebhookConfig{
		URL:          url,
		Secret:       "s3cret",
		Logger:       logger.Discard(),
		RetryOptions: []retry.Option{retry.WithSleep(retry.NoSleep)},
	})
	require.NoError(t, err)
	return s
}

func TestWebhookSender_Delivers(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Correlation-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, newWebhook(t, srv.URL).Send(context.Background(), levelUp(t)))
	assert.Equal(t, "user-1", got["user_id"])
	assert.Equal(t, "Level 2!", got["title"])
	assert.Contains(t, got["text"], "Level 2!: 144 XP earned so far")
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newWebhook(t, srv.URL).Send(context.Background(), levelUp(t)))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookSender_HonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var waits []time.Duration
	s, err := NewWebhookSender(WebhookConfig{
		URL:    srv.URL,
		Logger: logger.Discard(),
		RetryOptions: []retry.Option{retry.WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		})},
	})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), levelUp(t)))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}

func TestWebhookSender_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newWebhook(t, srv.URL).Send(context.Background(), levelUp(t))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
	assert.Equal(t, "bad payload", apiErr.Description)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	_, err := NewWebhookSender(WebhookConfig{})
	assert.Error(t, err)
}

// ─── Multi ──────────────────────────────────────────────────────────────────

type stubSender struct {
	calls int
	err   error
}

func (s *stubSender) Send(context.Context, *notification.Notification) error {
	s.calls++
	return s.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &stubSender{err: boom}, &stubSender{}
	err := Multi{a, NewLogSender(logger.Discard()), b}.Send(context.Background(), levelUp(t))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
