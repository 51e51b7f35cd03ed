package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"finance-backoffice/internal/failure"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.contents = append(r.contents, content)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func manualWarning(step string) *failure.PartialFailure {
	w := failure.Partial(step, errors.New("store unavailable"))
	w.ManualIntervention = true
	return w
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	notifier.NotifyWarnings(context.Background(), "vendor_account", "acct-1", []*failure.PartialFailure{
		manualWarning("ledger cascade delete"),
	})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("msgtype = %q", payload.MsgType)
		}
		for _, want := range []string{"Manual intervention required", "acct-1", "ledger cascade delete", "store unavailable"} {
			if !strings.Contains(payload.Text.Content, want) {
				t.Fatalf("content missing %q: %s", want, payload.Text.Content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not called")
	}
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, _ := NewWebhookChannel(server.URL)
	if err := channel.Send(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on 502")
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("expected error on empty url")
	}
}

func TestNotifierSkipsRetryableWarnings(t *testing.T) {
	ch := &recordingChannel{}
	notifier, _ := NewNotifier(ch, nil)
	notifier.NotifyWarnings(context.Background(), "charge", "charge-1", []*failure.PartialFailure{
		failure.Partial("ledger sync", errors.New("timeout")),
		nil,
	})
	if ch.count() != 0 {
		t.Fatalf("retryable warnings must not alert")
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	ch := &recordingChannel{}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	notifier, _ := NewNotifier(ch, nil, WithClock(clock), WithDedupeWindow(5*time.Minute))
	warnings := []*failure.PartialFailure{manualWarning("ledger retry enqueue")}
	ctx := context.Background()

	notifier.NotifyWarnings(ctx, "charge", "charge-1", warnings)
	notifier.NotifyWarnings(ctx, "charge", "charge-1", warnings)
	if ch.count() != 1 {
		t.Fatalf("expected deduplicated alert, got %d", ch.count())
	}
	notifier.NotifyWarnings(ctx, "charge", "charge-2", warnings)
	if ch.count() != 2 {
		t.Fatalf("different subject must alert, got %d", ch.count())
	}
	clock.Advance(6 * time.Minute)
	notifier.NotifyWarnings(ctx, "charge", "charge-1", warnings)
	if ch.count() != 3 {
		t.Fatalf("expected alert after window, got %d", ch.count())
	}
}

func TestNotifierRetriesAfterFailedSend(t *testing.T) {
	ch := &recordingChannel{err: errors.New("down")}
	notifier, _ := NewNotifier(ch, nil)
	warnings := []*failure.PartialFailure{manualWarning("ledger cascade delete")}
	notifier.NotifyWarnings(context.Background(), "vendor_account", "acct-1", warnings)

	ch.mu.Lock()
	ch.err = nil
	ch.mu.Unlock()
	notifier.NotifyWarnings(context.Background(), "vendor_account", "acct-1", warnings)
	if ch.count() != 1 {
		t.Fatalf("failed send must not be marked sent, got %d", ch.count())
	}
}

func TestMultiChannelJoinsErrors(t *testing.T) {
	ok := &recordingChannel{}
	bad := &recordingChannel{err: errors.New("down")}
	err := NewMultiChannel(ok, nil, bad).Send(context.Background(), "x")
	if err == nil || ok.count() != 1 {
		t.Fatalf("expected fan-out with joined error, got %v", err)
	}
}
