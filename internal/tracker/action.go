package tracker

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// NextAction applies Decide(p) to task: concluding hands the task to
// analysis, queueing opens exactly one conversation. Repeated calls fill the
// remaining capacity one conversation at a time.
func (t *Tracker) NextAction(ctx context.Context, task *models.Task, p Progress) (Decision, error) {
	if !evaluable(task.Status) {
		return DecisionNone, nil
	}
	log := t.log.With(logging.Account(task.AccountID), logging.Request(task.ID))

	switch d := Decide(p); d {
	case DecisionConclude:
		if err := t.conclude(ctx, task); err != nil {
			return d, err
		}
		return d, nil
	case DecisionQueue:
		convID, err := t.creator.CreateConversation(ctx, task)
		if err != nil {
			return d, fmt.Errorf("tracker: queue conversation for %s: %w", task.ID, err)
		}
		log.Info("queued conversation", logging.Conversation(convID),
			zap.Int("inflight", p.Inflight), zap.Int("remaining", p.Remaining))
		return d, nil
	default:
		if p.Excess > 0 {
			log.Warn("more conversations in flight than the task allows", zap.Int("excess", p.Excess))
		}
		return d, nil
	}
}

// conclude moves the task to AGENT_ANALYSIS, clears its bookkeeping and hands
// it to analysis. Only the caller that performs the transition runs the
// handoff. Handoff failures are logged; the status change stands.
func (t *Tracker) conclude(ctx context.Context, task *models.Task) error {
	at := t.now()
	updated, changed, err := t.mutateTask(ctx, task.AccountID, task.ID,
		func(tk *models.Task) bool {
			if !evaluable(tk.Status) {
				return false
			}
			tk.Status = models.TaskAgentAnalysis
			tk.OpenedConversations = 0
			tk.ConversationIDs = nil
			tk.ConcludedAt = &at
			return true
		},
		func(tk *models.Task) map[string]interface{} {
			return map[string]interface{}{
				"status":               tk.Status,
				"opened_conversations": 0,
				"conversation_ids":     datatypes.JSONSlice[string]{},
				"concluded_at":         tk.ConcludedAt,
			}
		})
	if err != nil {
		return fmt.Errorf("tracker: conclude %s: %w", task.ID, err)
	}
	if !changed {
		return nil
	}
	t.cache.ClearTaskConversationCount(task.AccountID, task.ID)
	t.metrics.RecordTaskConcluded(string(models.TaskAgentAnalysis))

	log := t.log.With(logging.Account(task.AccountID), logging.Request(task.ID))
	log.Info("task concluded", zap.Int("completed_conversations", updated.CompletedConversations))
	if err := t.handoff.ConcludeTask(ctx, updated); err != nil {
		log.Error("analysis handoff failed for task", zap.Error(err))
	}
	if t.notifier != nil {
		t.notifier.TaskConcluded(ctx, updated)
	}
	return nil
}
