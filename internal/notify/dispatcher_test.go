package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caseflow/internal/notify"
)

func TestWebhookStatusClassification(t *testing.T) {
	var status int
	var gotEvent, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Caseflow-Event")
		gotKey = r.Header.Get("X-Idempotency-Key")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	d := notify.NewWebhookDispatcher(srv.URL, time.Second)
	msg := notify.Message{
		Kind:         "validation_request.opened",
		CaseID:       "case-1",
		RequestID:    "req-1",
		TransitionID: "t-1",
	}

	status = http.StatusOK
	if err := d.Notify(context.Background(), msg); err != nil {
		t.Fatalf("200: %v", err)
	}
	if gotEvent != "validation_request.opened" || gotKey != "req-1:t-1" {
		t.Fatalf("missing headers: event=%q key=%q", gotEvent, gotKey)
	}

	status = http.StatusInternalServerError
	if err := d.Notify(context.Background(), msg); !errors.Is(err, notify.ErrTransient) {
		t.Fatalf("500 should be transient, got %v", err)
	}

	status = http.StatusTooManyRequests
	if err := d.Notify(context.Background(), msg); !errors.Is(err, notify.ErrTransient) {
		t.Fatalf("429 should be transient, got %v", err)
	}

	status = http.StatusBadRequest
	if err := d.Notify(context.Background(), msg); !errors.Is(err, notify.ErrPermanent) {
		t.Fatalf("400 should be permanent, got %v", err)
	}
}

func TestWebhookNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening any more

	d := notify.NewWebhookDispatcher(srv.URL, 500*time.Millisecond)
	err := d.Notify(context.Background(), notify.Message{Kind: "validation_request.closed"})
	if !errors.Is(err, notify.ErrTransient) {
		t.Fatalf("connection refused should be transient, got %v", err)
	}
}
