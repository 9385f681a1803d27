package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ReferralsCreated     uint64
	CodeCollisions       uint64
	EventsPublished      uint64
	EventsDropped        uint64
	RequestCount         uint64
	RequestDurationTotal time.Duration
	WebhookAttempts      uint64
	// Transitions is keyed by target then outcome.
	Transitions map[string]map[string]uint64
	// WebhookDeliveries is keyed by outcome.
	WebhookDeliveries map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	referralsCreated  uint64
	codeCollisions    uint64
	eventsPublished   uint64
	eventsDropped     uint64
	requestCount      uint64
	requestDurationNs int64
	webhookAttempts   uint64

	mu                sync.Mutex
	transitions       map[string]map[string]uint64
	webhookDeliveries map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		transitions:       make(map[string]map[string]uint64),
		webhookDeliveries: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	transitions := make(map[string]map[string]uint64, len(m.transitions))
	for target, outcomes := range m.transitions {
		copied := make(map[string]uint64, len(outcomes))
		for outcome, n := range outcomes {
			copied[outcome] = n
		}
		transitions[target] = copied
	}
	deliveries := make(map[string]uint64, len(m.webhookDeliveries))
	for outcome, n := range m.webhookDeliveries {
		deliveries[outcome] = n
	}
	m.mu.Unlock()

	return Snapshot{
		ReferralsCreated:     atomic.LoadUint64(&m.referralsCreated),
		CodeCollisions:       atomic.LoadUint64(&m.codeCollisions),
		EventsPublished:      atomic.LoadUint64(&m.eventsPublished),
		EventsDropped:        atomic.LoadUint64(&m.eventsDropped),
		RequestCount:         atomic.LoadUint64(&m.requestCount),
		RequestDurationTotal: time.Duration(atomic.LoadInt64(&m.requestDurationNs)),
		WebhookAttempts:      atomic.LoadUint64(&m.webhookAttempts),
		Transitions:          transitions,
		WebhookDeliveries:    deliveries,
	}
}

// IncReferralCreated increments the referral created counter.
func (m *InMemoryRecorder) IncReferralCreated() {
	atomic.AddUint64(&m.referralsCreated, 1)
}

// IncCodeCollision increments the code collision counter.
func (m *InMemoryRecorder) IncCodeCollision() {
	atomic.AddUint64(&m.codeCollisions, 1)
}

// IncStatusTransition counts a transition attempt by target and outcome.
func (m *InMemoryRecorder) IncStatusTransition(target, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcomes, ok := m.transitions[target]
	if !ok {
		outcomes = make(map[string]uint64)
		m.transitions[target] = outcomes
	}
	outcomes[outcome]++
}

// IncEventPublished counts published or dropped lifecycle events.
func (m *InMemoryRecorder) IncEventPublished(status string) {
	switch status {
	case PublishSuccess:
		atomic.AddUint64(&m.eventsPublished, 1)
	case PublishDropped:
		atomic.AddUint64(&m.eventsDropped, 1)
	}
}

// IncWebhookDelivery counts a webhook delivery outcome.
func (m *InMemoryRecorder) IncWebhookDelivery(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookDeliveries[outcome]++
}

// ObserveWebhookDuration counts one webhook attempt.
func (m *InMemoryRecorder) ObserveWebhookDuration(duration time.Duration) {
	atomic.AddUint64(&m.webhookAttempts, 1)
}

// ObserveRequest records one HTTP request.
func (m *InMemoryRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddInt64(&m.requestDurationNs, duration.Nanoseconds())
}
