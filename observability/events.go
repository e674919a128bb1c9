package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"licensestake/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "licensestake",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// EventCounter is an events.Emitter that only counts.
type EventCounter struct{}

// Emit implements events.Emitter.
func (EventCounter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().RecordEvent(evt.EventType())
}
