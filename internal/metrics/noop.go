package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncReferralCreated is a no-op.
func (n *NoopRecorder) IncReferralCreated() {}

// IncCodeCollision is a no-op.
func (n *NoopRecorder) IncCodeCollision() {}

// IncStatusTransition is a no-op.
func (n *NoopRecorder) IncStatusTransition(target, outcome string) {}

// IncEventPublished is a no-op.
func (n *NoopRecorder) IncEventPublished(status string) {}

// IncWebhookDelivery is a no-op.
func (n *NoopRecorder) IncWebhookDelivery(outcome string) {}

// ObserveWebhookDuration is a no-op.
func (n *NoopRecorder) ObserveWebhookDuration(duration time.Duration) {}

// ObserveRequest is a no-op.
func (n *NoopRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {}
