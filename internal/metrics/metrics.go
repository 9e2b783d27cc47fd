// Package metrics holds the Prometheus instruments for convoy.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the orchestrator, tracker and gateways.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsTotal            *prometheus.CounterVec
	EventsDiscardedTotal   *prometheus.CounterVec
	ConversationsCreated   prometheus.Counter
	ConversationsConcluded *prometheus.CounterVec
	RepliesTotal           *prometheus.CounterVec
	TasksConcluded         *prometheus.CounterVec
	PlatformDuration       *prometheus.HistogramVec
}

// Default returns the process-wide metrics registered on the default
// registerer. sync.Once prevents duplicate collector registration panics.
//
// Metrics:
//   - convoy_events_total{kind} - inbound webhook events processed
//   - convoy_events_discarded_total{reason} - content events filtered out
//   - convoy_conversations_created_total - remote conversations opened
//   - convoy_conversations_concluded_total{duplicate} - conclusions booked
//   - convoy_replies_total{result} - consumer replies published or failed
//   - convoy_tasks_concluded_total{status} - tasks reaching a final status
//   - convoy_platform_request_duration_seconds{operation,result}
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// New registers a fresh set of metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoy_events_total",
				Help: "Total number of inbound platform events processed",
			},
			[]string{"kind"}, // "content" or "state"
		),
		EventsDiscardedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoy_events_discarded_total",
				Help: "Total number of content events discarded before processing",
			},
			[]string{"reason"},
		),
		ConversationsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "convoy_conversations_created_total",
				Help: "Total number of synthetic conversations opened",
			},
		),
		ConversationsConcluded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoy_conversations_concluded_total",
				Help: "Total number of conversation conclusions processed",
			},
			[]string{"duplicate"},
		),
		RepliesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoy_replies_total",
				Help: "Total number of consumer replies attempted",
			},
			[]string{"result"}, // "published" or "failed"
		),
		TasksConcluded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoy_tasks_concluded_total",
				Help: "Total number of tasks that left IN_PROGRESS",
			},
			[]string{"status"},
		),
		PlatformDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convoy_platform_request_duration_seconds",
				Help:    "Duration of outbound platform requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"operation", "result"},
		),
	}
}

// RecordEvent counts one inbound event of the given kind.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordDiscard counts a discarded content event.
func (m *Metrics) RecordDiscard(reason string) {
	if m == nil {
		return
	}
	m.EventsDiscardedTotal.WithLabelValues(reason).Inc()
}

// RecordConversationCreated counts a newly opened conversation.
func (m *Metrics) RecordConversationCreated() {
	if m == nil {
		return
	}
	m.ConversationsCreated.Inc()
}

// RecordConcluded counts a conclusion, flagging duplicates separately.
func (m *Metrics) RecordConcluded(duplicate bool) {
	if m == nil {
		return
	}
	label := "false"
	if duplicate {
		label = "true"
	}
	m.ConversationsConcluded.WithLabelValues(label).Inc()
}

// RecordReply counts a consumer reply attempt.
func (m *Metrics) RecordReply(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.RepliesTotal.WithLabelValues("published").Inc()
		return
	}
	m.RepliesTotal.WithLabelValues("failed").Inc()
}

// RecordTaskConcluded counts a task reaching status.
func (m *Metrics) RecordTaskConcluded(status string) {
	if m == nil {
		return
	}
	m.TasksConcluded.WithLabelValues(status).Inc()
}

// ObservePlatform records the latency of one outbound platform call.
func (m *Metrics) ObservePlatform(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PlatformDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
