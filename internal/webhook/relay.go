package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartoncaps/referral-api/internal/events"
	"github.com/cartoncaps/referral-api/internal/metrics"
)

const (
	// ConsumerGroup is the Redis consumer group the relay reads with.
	ConsumerGroup = "referral_webhooks"

	// DeadLetterStreamKey holds events that could not be delivered.
	DeadLetterStreamKey = "stream:referral_events:dlq"

	// DefaultBatchSize is the max events per read.
	DefaultBatchSize = 50

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	// It must exceed the longest in-process retry sequence.
	DefaultClaimIdle = 5 * time.Minute

	deadLetterMaxLen = 10000
	settleTimeout    = 5 * time.Second
)

// ErrRelayStarted is returned by Run on a relay that is already running.
var ErrRelayStarted = errors.New("relay already started")

// RelayOptions configures a Relay.
type RelayOptions struct {
	// EventTypes limits which events are delivered. Empty means all.
	EventTypes  []string
	MaxAttempts int
	ConsumerID  string
	Logger      *slog.Logger
	Metrics     metrics.Recorder
}

// Relay reads the referral event stream through a consumer group and
// delivers each event to the webhook endpoint. Events are acknowledged once
// delivered or dead-lettered; events interrupted by shutdown stay pending
// and are reclaimed later.
type Relay struct {
	redis         *redis.Client
	sender        Deliverer
	logger        *slog.Logger
	metrics       metrics.Recorder
	eventTypes    map[string]bool
	consumerID    string
	maxAttempts   int
	batchSize     int
	blockTimeout  time.Duration
	claimInterval time.Duration
	claimIdle     time.Duration
	claimStartID  string
	lastClaim     time.Time
	sleep         func(ctx context.Context, d time.Duration) error

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewRelay creates a relay. client must be non-nil for Run.
func NewRelay(client *redis.Client, sender Deliverer, opts RelayOptions) *Relay {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConsumerID == "" {
		opts.ConsumerID = NewConsumerID()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	var types map[string]bool
	if len(opts.EventTypes) > 0 {
		types = make(map[string]bool, len(opts.EventTypes))
		for _, t := range opts.EventTypes {
			types[t] = true
		}
	}

	return &Relay{
		redis:         client,
		sender:        sender,
		logger:        opts.Logger.With("component", "webhook.relay", "consumer_id", opts.ConsumerID),
		metrics:       opts.Metrics,
		eventTypes:    types,
		consumerID:    opts.ConsumerID,
		maxAttempts:   opts.MaxAttempts,
		batchSize:     DefaultBatchSize,
		blockTimeout:  DefaultBlockTimeout,
		claimInterval: DefaultClaimInterval,
		claimIdle:     DefaultClaimIdle,
		claimStartID:  "0-0",
		sleep:         sleepContext,
	}
}

// Run consumes the stream until ctx is cancelled or Shutdown is called.
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRelayStarted
	}
	r.started = true
	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	defer close(r.done)

	if err := r.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	r.logger.Info("webhook relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("webhook relay stopping")
			return nil
		default:
		}

		if err := r.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.logger.Error("process error", "error", err)
			if err := r.sleep(ctx, time.Second); err != nil {
				return nil
			}
		}
	}
}

// Shutdown stops the relay and waits for the current batch to settle.
// It matches server.ShutdownFunc.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("webhook relay shutdown timed out")
		return ctx.Err()
	}
}

func (r *Relay) ensureConsumerGroup(ctx context.Context) error {
	err := r.redis.XGroupCreateMkStream(ctx, events.StreamKey, ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// processOnce reads one batch, delivers it and acknowledges what settled.
func (r *Relay) processOnce(ctx context.Context) error {
	messages, err := r.maybeClaimPending(ctx)
	if err != nil {
		r.logger.Warn("failed to claim pending messages", "error", err)
	}
	if len(messages) == 0 {
		messages, err = r.readBatch(ctx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	settled, dead, handleErr := r.handleMessages(ctx, messages)

	// Settle what was handled even when shutdown interrupted the batch.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	for _, d := range dead {
		r.deadLetter(settleCtx, d)
	}
	if err := r.ack(settleCtx, settled); err != nil {
		return err
	}
	return handleErr
}

// deadLetter is a message that will not be delivered.
type deadLetter struct {
	msg    redis.XMessage
	reason string
	detail string
}

// handleMessages delivers messages in order. It returns the IDs that are
// settled (delivered, skipped or dead-lettered) and the dead letters to
// record. On cancellation it stops early; unsettled messages stay pending.
func (r *Relay) handleMessages(ctx context.Context, messages []redis.XMessage) ([]string, []deadLetter, error) {
	settled := make([]string, 0, len(messages))
	var dead []deadLetter

	for _, msg := range messages {
		event, err := events.DecodeEvent(msg.Values)
		if err != nil {
			dead = append(dead, deadLetter{msg: msg, reason: "decode_error", detail: err.Error()})
			settled = append(settled, msg.ID)
			r.metrics.IncWebhookDelivery(metrics.DeliveryDeadLettered)
			continue
		}

		if r.eventTypes != nil && !r.eventTypes[event.Type] {
			settled = append(settled, msg.ID)
			r.metrics.IncWebhookDelivery(metrics.DeliverySkipped)
			continue
		}

		payload, _ := msg.Values["payload"].(string)
		err = r.deliverWithRetry(ctx, Delivery{ID: event.ID, EventType: event.Type, Payload: []byte(payload)})
		switch {
		case err == nil:
			settled = append(settled, msg.ID)
		case ctx.Err() != nil:
			return settled, dead, ctx.Err()
		default:
			dead = append(dead, deadLetter{msg: msg, reason: "delivery_failed", detail: err.Error()})
			settled = append(settled, msg.ID)
			r.metrics.IncWebhookDelivery(metrics.DeliveryDeadLettered)
		}
	}

	return settled, dead, nil
}

// deliverWithRetry attempts a delivery up to maxAttempts times with backoff.
func (r *Relay) deliverWithRetry(ctx context.Context, d Delivery) error {
	var lastErr error

	for attempt := 0; !IsExhausted(attempt, r.maxAttempts); attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, NextRetryDelay(attempt-1)); err != nil {
				return err
			}
		}

		start := time.Now()
		err := r.sender.Send(ctx, d)
		r.metrics.ObserveWebhookDuration(time.Since(start))

		if err == nil {
			r.logger.Info("webhook delivered",
				"delivery_id", d.ID,
				"event_type", d.EventType,
				"attempt", attempt+1,
			)
			r.metrics.IncWebhookDelivery(metrics.DeliveryDelivered)
			return nil
		}
		lastErr = err

		var deliveryErr *DeliveryError
		retryable := errors.As(err, &deliveryErr) && deliveryErr.Retryable
		r.logger.Warn("webhook delivery failed",
			"delivery_id", d.ID,
			"event_type", d.EventType,
			"attempt", attempt+1,
			"retryable", retryable,
			"error", err,
		)
		if !retryable || ctx.Err() != nil {
			break
		}
		r.metrics.IncWebhookDelivery(metrics.DeliveryRetried)
	}

	return lastErr
}

// maybeClaimPending reclaims messages left pending by a stopped consumer.
func (r *Relay) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if !r.lastClaim.IsZero() && time.Since(r.lastClaim) < r.claimInterval {
		return nil, nil
	}
	r.lastClaim = time.Now()

	messages, start, err := r.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   events.StreamKey,
		Group:    ConsumerGroup,
		Consumer: r.consumerID,
		MinIdle:  r.claimIdle,
		Start:    r.claimStartID,
		Count:    int64(r.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		r.claimStartID = start
	}
	return messages, nil
}

// readBatch reads new messages with XREADGROUP.
func (r *Relay) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := r.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: r.consumerID,
		Streams:  []string{events.StreamKey, ">"},
		Count:    int64(r.batchSize),
		Block:    r.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return streams[0].Messages, nil
}

func (r *Relay) deadLetter(ctx context.Context, d deadLetter) {
	r.logger.Warn("dead-lettering referral event",
		"message_id", d.msg.ID,
		"reason", d.reason,
		"detail", d.detail,
	)

	err := r.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      d.msg.ID,
			"reason":           d.reason,
			"detail":           d.detail,
			"payload":          d.msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		r.logger.Error("failed to write dead letter", "message_id", d.msg.ID, "error", err)
	}
}

func (r *Relay) ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.redis.XAck(ctx, events.StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
