package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zulandar/convoy/internal/models"
)

func convs(statuses ...string) []*models.Conversation {
	out := make([]*models.Conversation, len(statuses))
	for i, s := range statuses {
		out[i] = &models.Conversation{Status: s}
	}
	return out
}

func TestComputeProgress_Scenarios(t *testing.T) {
	task := &models.Task{MaxConversations: 3, ConcurrentConversations: 2}

	tests := []struct {
		name     string
		convs    []*models.Conversation
		want     Progress
		decision Decision
	}{
		{
			name:     "fresh task",
			convs:    nil,
			want:     Progress{Remaining: 3, MaxAdditional: 2, ToQueue: 2},
			decision: DecisionQueue,
		},
		{
			name:     "two open",
			convs:    convs(models.StageOpen, models.StageOpen),
			want:     Progress{Total: 2, Inflight: 2, Remaining: 1, MaxAdditional: 0, ToQueue: 0},
			decision: DecisionNone,
		},
		{
			name:     "one closed one open",
			convs:    convs(models.StageClose, models.StageOpen),
			want:     Progress{Total: 2, Completed: 1, Inflight: 1, Remaining: 1, MaxAdditional: 1, ToQueue: 1},
			decision: DecisionQueue,
		},
		{
			name:     "all closed",
			convs:    convs(models.StageClose, models.StageClose, models.StageClose),
			want:     Progress{Total: 3, Completed: 3, Remaining: 0, MaxAdditional: 2, ToQueue: 0, IsComplete: true},
			decision: DecisionConclude,
		},
		{
			name:     "last one still open",
			convs:    convs(models.StageClose, models.StageClose, models.StageOpen),
			want:     Progress{Total: 3, Completed: 2, Inflight: 1, Remaining: 0, MaxAdditional: 1, ToQueue: 0},
			decision: DecisionNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ComputeProgress(task, tt.convs, 0)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.decision, Decide(p))
		})
	}
}

func TestComputeProgress_ClampsQueueAndReportsExcess(t *testing.T) {
	task := &models.Task{MaxConversations: 5, ConcurrentConversations: 1}
	p := ComputeProgress(task, convs(models.StageOpen, models.StageOpen, models.StageOpen), 0)

	assert.Equal(t, -2, p.MaxAdditional)
	assert.Equal(t, 0, p.ToQueue, "never negative")
	assert.Equal(t, 2, p.Excess)
	assert.Equal(t, DecisionNone, Decide(p))
}

func TestComputeProgress_Pending(t *testing.T) {
	task := &models.Task{MaxConversations: 3, ConcurrentConversations: 3}
	list := []*models.Conversation{
		{Status: models.StageOpen, PendingConsumer: true, PendingConsumerRespondTime: 2000},
		{Status: models.StageOpen, PendingConsumer: true, PendingConsumerRespondTime: 1000},
		{Status: models.StageOpen, PendingConsumer: true, PendingConsumerRespondTime: 500},
		{Status: models.StageOpen, PendingConsumerRespondTime: 5000},
	}
	p := ComputeProgress(task, list, 1000)
	assert.Equal(t, 2, p.Pending, "replies not yet due")
}

func TestDecide_ConcludeBeatsQueue(t *testing.T) {
	assert.Equal(t, DecisionConclude, Decide(Progress{Remaining: 0, ToQueue: 0}))
	assert.Equal(t, DecisionConclude, Decide(Progress{Remaining: -1, ToQueue: 0, Excess: 1}))
	assert.Equal(t, DecisionQueue, Decide(Progress{Inflight: 1, Remaining: 2, ToQueue: 1}))
	assert.Equal(t, DecisionNone, Decide(Progress{Inflight: 2, Remaining: 1}))
}
