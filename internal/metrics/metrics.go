// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Transition outcomes reported by IncStatusTransition.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeNotFound = "not_found"
)

// Event publish statuses reported by IncEventPublished.
const (
	PublishSuccess = "success"
	PublishDropped = "dropped"
)

// Webhook delivery outcomes reported by IncWebhookDelivery.
const (
	DeliveryDelivered    = "delivered"
	DeliveryRetried      = "retried"
	DeliveryDeadLettered = "dead_lettered"
	DeliverySkipped      = "skipped"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Referral lifecycle metrics
	IncReferralCreated()
	IncCodeCollision()
	IncStatusTransition(target, outcome string)

	// Lifecycle event stream metrics
	IncEventPublished(status string)

	// Webhook relay metrics
	IncWebhookDelivery(outcome string)
	ObserveWebhookDuration(duration time.Duration)

	// HTTP metrics
	ObserveRequest(method, route string, status int, duration time.Duration)
}
