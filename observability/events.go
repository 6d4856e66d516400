package observability

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"repchain/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured mining events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "repchain",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// LogEmitter writes every event to a structured logger, counts it and then
// forwards it to Next when set.
type LogEmitter struct {
	Logger *slog.Logger
	Next   events.Emitter
}

// Emit implements events.Emitter.
func (e LogEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().Record(evt.EventType())
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var attrs []any
	if rendered := events.Render(evt).Attributes; rendered != nil {
		keys := make([]string, 0, len(rendered))
		for k := range rendered {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.String(k, rendered[k]))
		}
	}
	logger.Info(evt.EventType(), attrs...)
	if e.Next != nil {
		e.Next.Emit(evt)
	}
}
