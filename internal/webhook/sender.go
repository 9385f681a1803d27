package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Delivery is one event payload bound for the webhook endpoint.
type Delivery struct {
	// ID is stable across retries so receivers can deduplicate.
	ID        string
	EventType string
	Payload   []byte
}

// DeliveryError describes a failed delivery attempt.
type DeliveryError struct {
	StatusCode int // 0 when no response was received
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Deliverer sends a single delivery attempt.
type Deliverer interface {
	Send(ctx context.Context, d Delivery) error
}

// Sender POSTs signed deliveries to one target URL.
type Sender struct {
	client    *http.Client
	targetURL string
	secret    string
	now       func() time.Time
}

// NewSender creates a Sender. A nil client uses NewHTTPClient.
func NewSender(targetURL, secret string, client *http.Client) *Sender {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Sender{
		client:    client,
		targetURL: targetURL,
		secret:    secret,
		now:       time.Now,
	}
}

// Send performs one attempt. Non-2xx responses and transport failures come
// back as *DeliveryError; 408, 429 and 5xx are retryable.
func (s *Sender) Send(ctx context.Context, d Delivery) error {
	timestamp := s.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL, bytes.NewReader(d.Payload))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("create request: %w", err)}
	}

	SetWebhookHeaders(req, HTTPHeaders{
		Signature:  GenerateSignature(s.secret, timestamp, d.Payload),
		Timestamp:  strconv.FormatInt(timestamp, 10),
		DeliveryID: d.ID,
		EventType:  d.EventType,
	})

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Retryable:  isRetryableStatus(resp.StatusCode),
	}
}

// TargetHost returns the host of the target URL, safe to log.
func (s *Sender) TargetHost() string {
	return ExtractHost(s.targetURL)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}
