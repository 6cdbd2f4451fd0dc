package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics records outcomes across the publish and consume pipeline.
type EventMetrics struct {
	published  *prometheus.CounterVec
	publishErr *prometheus.CounterVec
	consumed   *prometheus.CounterVec
	handlerErr *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	backlog    prometheus.Gauge
}

// NewEventMetrics registers the event pipeline metrics on the provided registerer.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	if reg == nil {
		return &EventMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Outbox events successfully published.",
	}, []string{"event_type"})
	publishErr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failures_total",
		Help: "Failed outbox publish attempts.",
	}, []string{"event_type"})
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Events processed to completion by a consumer.",
	}, []string{"consumer", "event_type"})
	handlerErr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_handler_failures_total",
		Help: "Handler failures, labelled permanent or transient.",
	}, []string{"consumer", "event_type", "kind"})
	deadLetter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dead_lettered_total",
		Help: "Events moved to the dead letter queue.",
	}, []string{"stage", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "event_handler_duration_seconds",
		Help:    "Handler execution time in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"consumer", "event_type"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_events",
		Help: "Outbox rows waiting for delivery.",
	})
	reg.MustRegister(published, publishErr, consumed, handlerErr, deadLetter, duration, backlog)
	return &EventMetrics{
		published:  published,
		publishErr: publishErr,
		consumed:   consumed,
		handlerErr: handlerErr,
		deadLetter: deadLetter,
		duration:   duration,
		backlog:    backlog,
	}
}

func (m *EventMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *EventMetrics) IncPublishFailure(eventType string) {
	if m == nil || m.publishErr == nil {
		return
	}
	m.publishErr.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *EventMetrics) IncConsumed(consumer, eventType string) {
	if m == nil || m.consumed == nil {
		return
	}
	m.consumed.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType)).Inc()
}

// IncHandlerFailure records a handler error. Kind is "permanent" or "transient".
func (m *EventMetrics) IncHandlerFailure(consumer, eventType, kind string) {
	if m == nil || m.handlerErr == nil {
		return
	}
	m.handlerErr.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType), normalizeLabel(kind)).Inc()
}

func (m *EventMetrics) IncDeadLettered(stage, reason string) {
	if m == nil || m.deadLetter == nil {
		return
	}
	m.deadLetter.WithLabelValues(normalizeLabel(stage), normalizeLabel(reason)).Inc()
}

func (m *EventMetrics) ObserveHandlerDuration(consumer, eventType string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType)).Observe(d.Seconds())
}

func (m *EventMetrics) SetOutboxBacklog(n int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
