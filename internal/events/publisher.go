// Package events publishes referral lifecycle events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cartoncaps/referral-api/internal/metrics"
	"github.com/cartoncaps/referral-api/internal/model"
)

const (
	// StreamKey is the Redis stream for referral lifecycle events.
	StreamKey = "stream:referral_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 250 * time.Millisecond
)

// Event types.
const (
	TypeReferralCreated   = "referral_created"
	TypeReferralInstalled = "referral_installed"
	TypeReferralCompleted = "referral_completed"
)

// ReferralEvent is the payload written to the stream.
type ReferralEvent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	ReferralID     string `json:"referral_id"`
	ReferralCode   string `json:"referral_code"`
	ReferrerUserID string `json:"referrer_user_id"`
	RefereeUserID  string `json:"referee_user_id,omitempty"`
	Status         string `json:"status"`
	OccurredAt     int64  `json:"t"` // Unix milliseconds
}

// NewReferralEvent builds an event for r with a fresh ULID.
func NewReferralEvent(eventType string, r *model.Referral, at time.Time) ReferralEvent {
	event := ReferralEvent{
		ID:             ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		Type:           eventType,
		ReferralID:     r.ID.String(),
		ReferralCode:   r.ReferralCode,
		ReferrerUserID: r.ReferrerUserID.String(),
		Status:         r.Status.String(),
		OccurredAt:     at.UnixMilli(),
	}
	if r.RefereeUserID != nil {
		event.RefereeUserID = r.RefereeUserID.String()
	}
	return event
}

// Publisher enqueues referral events to a Redis stream.
// A Publisher without a Redis client discards events.
type Publisher struct {
	redis    *redis.Client
	logger   *slog.Logger
	metrics  metrics.Recorder
	inflight sync.WaitGroup
}

// NewPublisher creates a new event publisher. client may be nil.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "events.publisher"),
		metrics: recorder,
	}
}

// Enabled reports whether events are actually written anywhere.
func (p *Publisher) Enabled() bool {
	return p != nil && p.redis != nil
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event ReferralEvent) (string, error) {
	if !p.Enabled() {
		return "", nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"type":    event.Type,
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(event ReferralEvent) {
	if !p.Enabled() {
		return
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish referral event",
				"type", event.Type,
				"referral_code", event.ReferralCode,
				"error", err,
			)
			p.metrics.IncEventPublished(metrics.PublishDropped)
			return
		}

		p.logger.Debug("referral event published",
			"type", event.Type,
			"referral_code", event.ReferralCode,
			"stream_id", streamID,
		)
		p.metrics.IncEventPublished(metrics.PublishSuccess)
	}()
}

// DecodeEvent parses the payload field of a stream message.
func DecodeEvent(values map[string]interface{}) (ReferralEvent, error) {
	raw, ok := values["payload"].(string)
	if !ok {
		return ReferralEvent{}, fmt.Errorf("missing payload field")
	}
	var event ReferralEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return ReferralEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}

// Drain waits for in-flight async publishes, or until ctx is done.
func (p *Publisher) Drain(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain events: %w", ctx.Err())
	}
}
