package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordEvent("content")
	m.RecordEvent("content")
	m.RecordDiscard("audience")
	m.RecordConversationCreated()
	m.RecordConcluded(false)
	m.RecordConcluded(true)
	m.RecordReply(true)
	m.RecordReply(false)
	m.RecordTaskConcluded("AGENT_ANALYSIS")
	m.ObservePlatform("publish", time.Now(), errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDiscardedTotal.WithLabelValues("audience")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversationsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversationsConcluded.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepliesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksConcluded.WithLabelValues("AGENT_ANALYSIS")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PlatformDuration))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEvent("state")
		m.RecordDiscard("role")
		m.RecordConversationCreated()
		m.RecordConcluded(false)
		m.RecordReply(true)
		m.RecordTaskConcluded("ERROR")
		m.ObservePlatform("create", time.Now(), nil)
	})
}
