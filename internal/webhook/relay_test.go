package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartoncaps/referral-api/internal/events"
	"github.com/cartoncaps/referral-api/internal/metrics"
)

// scriptedDeliverer returns queued errors in order, then nil.
type scriptedDeliverer struct {
	mu    sync.Mutex
	errs  []error
	calls []Delivery
}

func (d *scriptedDeliverer) Send(ctx context.Context, delivery Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, delivery)
	if len(d.errs) == 0 {
		return nil
	}
	err := d.errs[0]
	d.errs = d.errs[1:]
	return err
}

func newTestRelay(t *testing.T, sender Deliverer, opts RelayOptions) (*Relay, *metrics.InMemoryRecorder, *[]time.Duration) {
	t.Helper()
	recorder := metrics.NewInMemory()
	opts.Metrics = recorder
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.ConsumerID = "test-consumer"

	relay := NewRelay(nil, sender, opts)
	var slept []time.Duration
	relay.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return relay, recorder, &slept
}

func streamMessage(t *testing.T, id, eventType string) redis.XMessage {
	t.Helper()
	payload, err := json.Marshal(events.ReferralEvent{
		ID:           "evt-" + id,
		Type:         eventType,
		ReferralCode: "REF-ABCDEFGHJ",
		Status:       "Completed",
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return redis.XMessage{
		ID:     id,
		Values: map[string]interface{}{"type": eventType, "payload": string(payload)},
	}
}

func retryable(status int) error {
	return &DeliveryError{StatusCode: status, Retryable: true}
}

func TestRelay_DeliversAndSettles(t *testing.T) {
	t.Parallel()

	sender := &scriptedDeliverer{}
	relay, recorder, slept := newTestRelay(t, sender, RelayOptions{})

	msgs := []redis.XMessage{
		streamMessage(t, "1-0", events.TypeReferralCreated),
		streamMessage(t, "2-0", events.TypeReferralCompleted),
	}
	settled, dead, err := relay.handleMessages(context.Background(), msgs)
	if err != nil {
		t.Fatalf("handleMessages: %v", err)
	}

	if len(settled) != 2 || settled[0] != "1-0" || settled[1] != "2-0" {
		t.Errorf("settled = %v, want [1-0 2-0]", settled)
	}
	if len(dead) != 0 {
		t.Errorf("dead = %v, want none", dead)
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", *slept)
	}
	if len(sender.calls) != 2 || sender.calls[1].ID != "evt-2-0" || sender.calls[1].EventType != events.TypeReferralCompleted {
		t.Fatalf("calls = %+v", sender.calls)
	}

	var decoded events.ReferralEvent
	if err := json.Unmarshal(sender.calls[0].Payload, &decoded); err != nil {
		t.Fatalf("payload is not the stream payload: %v", err)
	}
	if decoded.ReferralCode != "REF-ABCDEFGHJ" {
		t.Errorf("payload referral_code = %q", decoded.ReferralCode)
	}

	snap := recorder.Snapshot()
	if snap.WebhookDeliveries[metrics.DeliveryDelivered] != 2 || snap.WebhookAttempts != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRelay_RetriesThenDelivers(t *testing.T) {
	t.Parallel()

	sender := &scriptedDeliverer{errs: []error{retryable(http.StatusServiceUnavailable), retryable(0)}}
	relay, recorder, slept := newTestRelay(t, sender, RelayOptions{})

	settled, dead, err := relay.handleMessages(context.Background(), []redis.XMessage{
		streamMessage(t, "1-0", events.TypeReferralInstalled),
	})
	if err != nil {
		t.Fatalf("handleMessages: %v", err)
	}
	if len(settled) != 1 || len(dead) != 0 {
		t.Fatalf("settled = %v, dead = %v", settled, dead)
	}
	if len(sender.calls) != 3 {
		t.Errorf("attempts = %d, want 3", len(sender.calls))
	}
	for _, call := range sender.calls {
		if call.ID != "evt-1-0" {
			t.Errorf("delivery ID changed across retries: %q", call.ID)
		}
	}
	if len(*slept) != 2 {
		t.Fatalf("sleeps = %v, want 2", *slept)
	}

	snap := recorder.Snapshot()
	if snap.WebhookDeliveries[metrics.DeliveryRetried] != 2 || snap.WebhookDeliveries[metrics.DeliveryDelivered] != 1 {
		t.Errorf("deliveries = %v", snap.WebhookDeliveries)
	}
	if snap.WebhookAttempts != 3 {
		t.Errorf("attempts = %d, want 3", snap.WebhookAttempts)
	}
}

func TestRelay_DeadLetters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		errs         []error
		maxAttempts  int
		wantAttempts int
		wantReason   string
	}{
		{
			name:         "non-retryable status",
			errs:         []error{&DeliveryError{StatusCode: http.StatusBadRequest}},
			wantAttempts: 1,
			wantReason:   "delivery_failed",
		},
		{
			name:         "attempts exhausted",
			errs:         []error{retryable(500), retryable(500), retryable(500)},
			maxAttempts:  3,
			wantAttempts: 3,
			wantReason:   "delivery_failed",
		},
		{
			name:         "plain error is not retried",
			errs:         []error{errors.New("boom")},
			wantAttempts: 1,
			wantReason:   "delivery_failed",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &scriptedDeliverer{errs: tt.errs}
			relay, recorder, _ := newTestRelay(t, sender, RelayOptions{MaxAttempts: tt.maxAttempts})

			settled, dead, err := relay.handleMessages(context.Background(), []redis.XMessage{
				streamMessage(t, "7-0", events.TypeReferralCompleted),
			})
			if err != nil {
				t.Fatalf("handleMessages: %v", err)
			}
			if len(settled) != 1 || settled[0] != "7-0" {
				t.Errorf("settled = %v, want [7-0]", settled)
			}
			if len(dead) != 1 || dead[0].reason != tt.wantReason || dead[0].msg.ID != "7-0" {
				t.Fatalf("dead = %+v", dead)
			}
			if len(sender.calls) != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", len(sender.calls), tt.wantAttempts)
			}
			if got := recorder.Snapshot().WebhookDeliveries[metrics.DeliveryDeadLettered]; got != 1 {
				t.Errorf("dead_lettered = %d, want 1", got)
			}
		})
	}
}

func TestRelay_UndecodableMessageIsDeadLettered(t *testing.T) {
	t.Parallel()

	sender := &scriptedDeliverer{}
	relay, _, _ := newTestRelay(t, sender, RelayOptions{})

	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"type": "referral_created"}},
		{ID: "2-0", Values: map[string]interface{}{"payload": "{not json"}},
	}
	settled, dead, err := relay.handleMessages(context.Background(), msgs)
	if err != nil {
		t.Fatalf("handleMessages: %v", err)
	}
	if len(settled) != 2 || len(dead) != 2 {
		t.Fatalf("settled = %v, dead = %d", settled, len(dead))
	}
	for _, d := range dead {
		if d.reason != "decode_error" {
			t.Errorf("reason = %q, want decode_error", d.reason)
		}
	}
	if len(sender.calls) != 0 {
		t.Errorf("undecodable messages were sent: %+v", sender.calls)
	}
}

func TestRelay_FiltersEventTypes(t *testing.T) {
	t.Parallel()

	sender := &scriptedDeliverer{}
	relay, recorder, _ := newTestRelay(t, sender, RelayOptions{EventTypes: []string{events.TypeReferralCompleted}})

	settled, dead, err := relay.handleMessages(context.Background(), []redis.XMessage{
		streamMessage(t, "1-0", events.TypeReferralCreated),
		streamMessage(t, "2-0", events.TypeReferralCompleted),
		streamMessage(t, "3-0", events.TypeReferralInstalled),
	})
	if err != nil {
		t.Fatalf("handleMessages: %v", err)
	}
	if len(settled) != 3 || len(dead) != 0 {
		t.Fatalf("settled = %v, dead = %v", settled, dead)
	}
	if len(sender.calls) != 1 || sender.calls[0].EventType != events.TypeReferralCompleted {
		t.Errorf("calls = %+v, want only referral_completed", sender.calls)
	}
	if got := recorder.Snapshot().WebhookDeliveries[metrics.DeliverySkipped]; got != 2 {
		t.Errorf("skipped = %d, want 2", got)
	}
}

func TestRelay_CancellationLeavesMessagePending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &scriptedDeliverer{errs: []error{retryable(http.StatusBadGateway)}}
	relay, _, _ := newTestRelay(t, sender, RelayOptions{})
	relay.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	settled, dead, err := relay.handleMessages(ctx, []redis.XMessage{
		streamMessage(t, "1-0", events.TypeReferralCompleted),
		streamMessage(t, "2-0", events.TypeReferralCompleted),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(settled) != 0 || len(dead) != 0 {
		t.Errorf("settled = %v, dead = %v, want nothing settled", settled, dead)
	}
	if len(sender.calls) != 1 {
		t.Errorf("attempts = %d, want 1", len(sender.calls))
	}
}

func TestRelay_ShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	relay, _, _ := newTestRelay(t, &scriptedDeliverer{}, RelayOptions{})
	if err := relay.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on idle relay = %v, want nil", err)
	}
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext on cancelled ctx = %v, want context.Canceled", err)
	}
}
