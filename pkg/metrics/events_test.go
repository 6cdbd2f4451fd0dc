package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEventMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEventMetrics(reg)

	m.IncPublished("scheduling.appointment.created.v1")
	m.IncPublished("scheduling.appointment.created.v1")
	m.IncPublishFailure("scheduling.appointment.created.v1")
	m.IncConsumed("scheduling-worker", "weather.alert.updated.v1")
	m.IncHandlerFailure("scheduling-worker", "weather.alert.updated.v1", "transient")
	m.IncDeadLettered("consume", "max_attempts")
	m.ObserveHandlerDuration("scheduling-worker", "weather.alert.updated.v1", 20*time.Millisecond)
	m.SetOutboxBacklog(7)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.published.WithLabelValues("scheduling.appointment.created.v1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.publishErr.WithLabelValues("scheduling.appointment.created.v1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.deadLetter.WithLabelValues("consume", "max_attempts")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.backlog))
}

func TestEventMetricsNilSafe(t *testing.T) {
	var m *EventMetrics
	m.IncPublished("x")
	m.IncConsumed("c", "x")
	m.SetOutboxBacklog(1)

	empty := NewEventMetrics(nil)
	empty.IncDeadLettered("publish", "max_attempts")

	assert.Equal(t, "unknown", normalizeLabel(""))
}
