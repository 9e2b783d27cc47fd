package tracker

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
)

// Progress is the capacity snapshot of one task.
type Progress struct {
	Total         int  `json:"totalConversations"`
	Pending       int  `json:"pendingConversations"`
	Completed     int  `json:"completedConversations"`
	Inflight      int  `json:"inflightConversations"`
	Remaining     int  `json:"remainingConversations"`
	MaxAdditional int  `json:"maxAdditionalConversations"`
	ToQueue       int  `json:"conversationsToQueue"`
	Excess        int  `json:"excessConversations"`
	IsComplete    bool `json:"isComplete"`
}

// ComputeProgress derives a task's capacity from its conversations.
// Pending counts replies not yet due at nowMillis. ToQueue never goes below
// zero; when more conversations are in flight than the task allows, the
// overshoot is reported in Excess instead.
func ComputeProgress(task *models.Task, convs []*models.Conversation, nowMillis int64) Progress {
	p := Progress{Total: len(convs)}
	for _, c := range convs {
		if c.PendingConsumer && c.PendingConsumerRespondTime >= nowMillis {
			p.Pending++
		}
		switch c.Status {
		case models.StageClose:
			p.Completed++
		case models.StageOpen:
			p.Inflight++
		}
	}
	p.Remaining = task.MaxConversations - (p.Completed + p.Inflight)
	p.MaxAdditional = task.ConcurrentConversations - p.Inflight
	p.ToQueue = min(p.Remaining, p.MaxAdditional)
	if p.ToQueue < 0 {
		p.Excess = -p.ToQueue
		p.ToQueue = 0
	}
	p.IsComplete = p.Completed >= task.MaxConversations
	return p
}

// Decision is what the tracker does next for a task.
type Decision string

const (
	DecisionNone     Decision = "none"
	DecisionQueue    Decision = "queue"
	DecisionConclude Decision = "conclude"
)

// Decide picks the next action. Concluding is checked first, so a task with
// nothing in flight and no capacity left always concludes.
func Decide(p Progress) Decision {
	if p.Inflight == 0 && p.Remaining <= 0 {
		return DecisionConclude
	}
	if p.ToQueue > 0 {
		return DecisionQueue
	}
	return DecisionNone
}

// GetTaskProgress reads the task's conversations, cache first, and computes
// its progress. A task with no conversation records yet yields the metrics
// of an empty task and a warning.
func (t *Tracker) GetTaskProgress(ctx context.Context, task *models.Task) (Progress, error) {
	convs, ok := t.cache.ConversationsByRequest(task.AccountID, task.ID)
	if !ok {
		stored, err := t.store.ListConversationsByRequest(ctx, task.AccountID, task.ID)
		if err != nil {
			return Progress{}, fmt.Errorf("tracker: list conversations for %s: %w", task.ID, err)
		}
		convs = make([]*models.Conversation, len(stored))
		for i := range stored {
			convs[i] = &stored[i]
		}
	}
	if len(convs) == 0 {
		t.log.Warn("no conversations recorded for task",
			logging.Account(task.AccountID), logging.Request(task.ID))
	}
	return ComputeProgress(task, convs, t.now().UnixMilli()), nil
}
