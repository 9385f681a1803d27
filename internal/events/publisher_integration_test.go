//go:build integration

package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cartoncaps/referral-api/internal/metrics"
	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/cartoncaps/referral-api/internal/testutil"
)

func TestIntegrationPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := testutil.FlushRedis(ctx, client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	recorder := metrics.NewInMemory()
	p := NewPublisher(client, slog.New(slog.NewTextHandler(io.Discard, nil)), recorder)

	r := &model.Referral{ID: uuid.New(), ReferralCode: "REF-INTEGRAT", ReferrerUserID: uuid.New()}
	event := NewReferralEvent(TypeReferralCreated, r, time.Now())

	streamID, err := p.Publish(ctx, event)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msgs, err := client.XRange(ctx, StreamKey, streamID, streamID).Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange = %v, %v", msgs, err)
	}
	decoded, err := DecodeEvent(msgs[0].Values)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.ID != event.ID || decoded.ReferralCode != r.ReferralCode {
		t.Errorf("decoded = %+v, want %+v", decoded, event)
	}

	p.PublishAsync(NewReferralEvent(TypeReferralInstalled, r, time.Now()))
	deadline := time.Now().Add(2 * time.Second)
	for recorder.Snapshot().EventsPublished == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := recorder.Snapshot().EventsPublished; got != 1 {
		t.Errorf("EventsPublished = %d, want 1", got)
	}
}
