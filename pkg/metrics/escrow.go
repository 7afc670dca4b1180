package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "noretmy"

// Outcome labels shared by the escrow counters.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// EscrowMetrics tracks milestone captures, refunds, webhook handling and ledger integrity.
type EscrowMetrics struct {
	captures            *prometheus.CounterVec
	captureDuration     *prometheus.HistogramVec
	refunds             *prometheus.CounterVec
	releases            prometheus.Counter
	webhooks            *prometheus.CounterVec
	deadLetters         *prometheus.CounterVec
	integrityViolations *prometheus.CounterVec
	outboxPublished     *prometheus.CounterVec
}

// NewEscrowMetrics registers the escrow metrics on the provided registerer.
// A nil registerer yields a recorder whose methods are no-ops.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	m := &EscrowMetrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestone_captures_total",
			Help:      "Milestone capture attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestone_refunds_total",
			Help:      "Milestone refunds by stage and outcome.",
		}, []string{"stage", "outcome"}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_releases_total",
			Help:      "Orders whose escrow was released to the seller.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment provider webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dead_letters_total",
			Help:      "Webhook events stored as failed for manual replay.",
		}, []string{"event_type"}),
		integrityViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Ledger or breakdown invariants found broken.",
		}, []string{"check"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events published by type and outcome.",
		}, []string{"event_type", "outcome"}),
	}
	reg.MustRegister(
		m.captures,
		m.captureDuration,
		m.refunds,
		m.releases,
		m.webhooks,
		m.deadLetters,
		m.integrityViolations,
		m.outboxPublished,
	)
	return m
}

func (m *EscrowMetrics) ObserveCapture(stage, outcome string) {
	if m == nil || m.captures == nil {
		return
	}
	m.captures.WithLabelValues(normalizeLabel(stage), normalizeLabel(outcome)).Inc()
}

// ObserveGatewayCall records how long a provider call took.
func (m *EscrowMetrics) ObserveGatewayCall(operation string, elapsed time.Duration) {
	if m == nil || m.captureDuration == nil {
		return
	}
	m.captureDuration.WithLabelValues(normalizeLabel(operation)).Observe(elapsed.Seconds())
}

func (m *EscrowMetrics) ObserveRefund(stage, outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(stage), normalizeLabel(outcome)).Inc()
}

func (m *EscrowMetrics) IncRelease() {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.Inc()
}

func (m *EscrowMetrics) ObserveWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *EscrowMetrics) IncDeadLetter(eventType string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncIntegrityViolation counts a broken invariant; check names the failed rule.
func (m *EscrowMetrics) IncIntegrityViolation(check string) {
	if m == nil || m.integrityViolations == nil {
		return
	}
	m.integrityViolations.WithLabelValues(normalizeLabel(check)).Inc()
}

func (m *EscrowMetrics) ObserveOutboxPublish(eventType, outcome string) {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
