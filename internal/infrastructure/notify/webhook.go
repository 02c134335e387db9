package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// WebhookConfig contains configuration for the webhook sender.
type WebhookConfig struct {
	// URL receives one POST per notification.
	URL string

	// Secret, when set, is sent as a bearer token.
	Secret string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RetryAttempts is the total number of attempts per notification.
	RetryAttempts int

	// RetryDelay is the initial delay between attempts.
	RetryDelay time.Duration

	Logger *slog.Logger

	// RetryOptions are appended to the retrier, for tests.
	RetryOptions []retry.Option
}

// DefaultWebhookConfig returns sensible defaults.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:           url,
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDER
// ══════════════════════════════════════════════════════════════════════════════

// WebhookSender posts notifications as JSON to an HTTP endpoint, typically a
// push gateway. 429 and 5xx responses are retried with backoff.
type WebhookSender struct {
	config     WebhookConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewWebhookSender creates a WebhookSender.
func NewWebhookSender(config WebhookConfig) (*WebhookSender, error) {
	if config.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	def := DefaultWebhookConfig(config.URL)
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = def.RetryAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &WebhookSender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger.With(slog.String("component", "notify_webhook")),
	}
	onRetry := retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		s.logger.Debug("webhook delivery retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	})
	s.retrier = retry.DeliveryRetrier(config.RetryAttempts, config.RetryDelay, isRetryable,
		append([]retry.Option{onRetry}, config.RetryOptions...)...)
	return s, nil
}

// webhookPayload is the body posted for each notification.
type webhookPayload struct {
	*notification.Notification
	Text string `json:"text"`
}

// Send implements notification.Sender.
func (s *WebhookSender) Send(ctx context.Context, n *notification.Notification) error {
	body, err := json.Marshal(webhookPayload{Notification: n, Text: n.Text()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, body, n.CorrelationID)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	return nil
}

// post performs a single delivery attempt.
func (s *WebhookSender) post(ctx context.Context, body []byte, correlationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Secret)
	}
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	apiErr := &APIError{Code: resp.StatusCode, Description: string(bytes.TrimSpace(msg))}
	if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfterSeconds = ra
	}
	return apiErr
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-2xx response from the webhook endpoint.
type APIError struct {
	Code              int
	Description       string
	RetryAfterSeconds int
}

// RetryAfter returns the wait requested by the endpoint, if any.
func (e *APIError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterSeconds) * time.Second
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("webhook error %d: %s", e.Code, e.Description)
}

// isRetryable reports whether a delivery error may succeed on retry.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	// Transport errors.
	return true
}
