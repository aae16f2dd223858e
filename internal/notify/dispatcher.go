// Package notify is the boundary to the notification gateway. The gateway is
// an external collaborator with at-least-once semantics from our point of
// view; callers dedupe with the (request, transition) idempotency key carried
// on every message.
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
	"time"
)

// Delivery error classes. Transient errors are retried with backoff by the
// caller; permanent errors are logged and dropped, never rolled back into
// lifecycle state.
var (
	ErrTransient = errors.New("transient dispatch error")
	ErrPermanent = errors.New("permanent dispatch error")
)

// Message describes one request transition to the gateway.
type Message struct {
	Kind         string         `json:"kind"`
	CaseID       string         `json:"case_id"`
	RequestID    string         `json:"request_id"`
	TransitionID string         `json:"transition_id"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// IdempotencyKey identifies the transition so gateway-side retries cannot
// double-send.
func (m Message) IdempotencyKey() string {
	return m.RequestID + ":" + m.TransitionID
}

type Dispatcher interface {
	Notify(ctx context.Context, msg Message) error
}

// WebhookDispatcher posts messages to the gateway endpoint as JSON.
type WebhookDispatcher struct {
	URL    string
	Client *http.Client
	Log    *slog.Logger
}

func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	return &WebhookDispatcher{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		Log:    slog.Default(),
	}
}

func (d *WebhookDispatcher) Notify(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseflow-Event", msg.Kind)
	req.Header.Set("X-Idempotency-Key", msg.IdempotencyKey())

	resp, err := d.Client.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable.
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned status %d", ErrTransient, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: gateway rejected payload, status %d: %s", ErrPermanent, resp.StatusCode, string(body))
	}
}

// LogDispatcher writes messages to the log. Used when no gateway endpoint is
// configured, e.g. local workspaces and tests.
type LogDispatcher struct {
	Log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LogDispatcher{Log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, msg Message) error {
	d.Log.Info("notification",
		"kind", msg.Kind,
		"case_id", msg.CaseID,
		"request_id", msg.RequestID,
		"transition_id", msg.TransitionID,
	)
	return nil
}
