package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "referral"

// PrometheusRecorder exports metrics through a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	referralsCreated prometheus.Counter
	codeCollisions   prometheus.Counter
	transitions      *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	webhookDelivery  *prometheus.CounterVec
	webhookDuration  prometheus.Histogram
	requestDuration  *prometheus.HistogramVec
}

// NewPrometheus creates a PrometheusRecorder with Go and process collectors
// registered alongside the application metrics.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		referralsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referrals_created_total",
			Help:      "Referrals created.",
		}),
		codeCollisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Generated referral codes that were already taken.",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Referral status transition attempts by target status and outcome.",
		}, []string{"target", "outcome"}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Lifecycle events written to the event stream.",
		}, []string{"status"}),
		webhookDelivery: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook relay outcomes per event or attempt.",
		}, []string{"outcome"}),
		webhookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_seconds",
			Help:      "Duration of individual webhook delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Gatherer returns the registry backing this recorder.
func (p *PrometheusRecorder) Gatherer() prometheus.Gatherer {
	return p.registry
}

// IncReferralCreated increments the referral created counter.
func (p *PrometheusRecorder) IncReferralCreated() {
	p.referralsCreated.Inc()
}

// IncCodeCollision increments the code collision counter.
func (p *PrometheusRecorder) IncCodeCollision() {
	p.codeCollisions.Inc()
}

// IncStatusTransition counts a transition attempt.
func (p *PrometheusRecorder) IncStatusTransition(target, outcome string) {
	p.transitions.WithLabelValues(target, outcome).Inc()
}

// IncEventPublished counts published or dropped lifecycle events.
func (p *PrometheusRecorder) IncEventPublished(status string) {
	p.eventsPublished.WithLabelValues(status).Inc()
}

// IncWebhookDelivery counts a webhook delivery outcome.
func (p *PrometheusRecorder) IncWebhookDelivery(outcome string) {
	p.webhookDelivery.WithLabelValues(outcome).Inc()
}

// ObserveWebhookDuration records one webhook attempt.
func (p *PrometheusRecorder) ObserveWebhookDuration(duration time.Duration) {
	p.webhookDuration.Observe(duration.Seconds())
}

// ObserveRequest records one HTTP request. route is the matched route pattern,
// not the raw path, to keep label cardinality bounded.
func (p *PrometheusRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
