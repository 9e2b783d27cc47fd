package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTask is returned for submissions that cannot be run.
	ErrInvalidTask = errors.New("invalid task")
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinished is returned when a finished task is asked to change.
	ErrTaskFinished = errors.New("task already finished")
	// ErrNotAnalysing is returned when completing a task that was never
	// handed to analysis.
	ErrNotAnalysing = errors.New("task is not in agent analysis")
	// ErrNoConversation is returned when a task could not open any
	// conversation at start.
	ErrNoConversation = errors.New("no conversation could be opened")
)

// validate checks a submission. MaxTurns below zero means unlimited.
func validate(task *models.Task) error {
	var problems []string
	if task.AccountID == "" {
		problems = append(problems, "accountId is required")
	}
	if task.ID == "" {
		problems = append(problems, "requestId is required")
	}
	if task.MaxConversations <= 0 {
		problems = append(problems, "maxConversations must be positive")
	}
	if task.ConcurrentConversations <= 0 {
		problems = append(problems, "concurrentConversations must be positive")
	}
	r := task.ConsumerMessageDelayRange
	if (r.Min != 0 || r.Max != 0) && !r.Valid() {
		problems = append(problems, fmt.Sprintf("consumerMessageDelayRange [%d, %d] is invalid", r.Min, r.Max))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTask, problems)
	}
	return nil
}

// StartTask validates and persists a new task, then opens its first
// min(concurrent, max) conversations. It returns the ids that were opened.
// If none could be opened the task is moved to ERROR.
func (t *Tracker) StartTask(ctx context.Context, task *models.Task) ([]string, error) {
	if err := validate(task); err != nil {
		return nil, fmt.Errorf("tracker: start task: %w", err)
	}
	if task.MaxTurns == 0 {
		task.MaxTurns = t.defaultMaxTurns
	}
	task.Status = models.TaskPending
	task.CompletedConversations = 0
	task.CompletedConvIDs = nil
	task.OpenedConversations = 0
	task.ConversationIDs = nil
	task.ErrorReason = ""
	if err := t.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("tracker: start task %s: %w", task.ID, err)
	}
	t.cache.SetTask(task)
	t.cache.SetTaskConversationCount(task.AccountID, task.ID, 0)

	log := t.log.With(logging.Account(task.AccountID), logging.Request(task.ID))
	initial := min(task.ConcurrentConversations, task.MaxConversations)
	var ids []string
	var firstErr error
	for i := 0; i < initial; i++ {
		id, err := t.creator.CreateConversation(ctx, task)
		if err != nil {
			log.Error("initial conversation failed", zap.Int("index", i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		reason := ErrNoConversation.Error()
		if firstErr != nil {
			reason = fmt.Sprintf("%s: %v", reason, firstErr)
		}
		if _, _, err := t.setStatus(ctx, task.AccountID, task.ID, models.TaskError, reason); err != nil {
			log.Error("failed to record task error", zap.Error(err))
		}
		return nil, fmt.Errorf("tracker: start task %s: %w: %v", task.ID, ErrNoConversation, firstErr)
	}
	log.Info("task started", zap.Int("opened", len(ids)), zap.Int("max_conversations", task.MaxConversations))
	return ids, nil
}

// CancelTask stops a task. Conversations already open run to completion but
// nothing new is opened and no further bookkeeping happens.
func (t *Tracker) CancelTask(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	task, changed, err := t.setStatus(ctx, accountID, requestID, models.TaskCancelled, "")
	if err != nil {
		return nil, err
	}
	if !changed {
		return task, fmt.Errorf("tracker: cancel %s (%s): %w", requestID, task.Status, ErrTaskFinished)
	}
	t.cache.ClearTaskConversationCount(accountID, requestID)
	t.metrics.RecordTaskConcluded(string(models.TaskCancelled))
	t.log.Info("task cancelled", logging.Account(accountID), logging.Request(requestID))
	return task, nil
}

// MarkCompleted records that analysis has finished scoring a concluded task.
func (t *Tracker) MarkCompleted(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	task, err := t.GetTask(ctx, accountID, requestID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskAgentAnalysis {
		return task, fmt.Errorf("tracker: complete %s: status is %s: %w", requestID, task.Status, ErrNotAnalysing)
	}
	task, changed, err := t.setStatus(ctx, accountID, requestID, models.TaskCompleted, "")
	if err != nil {
		return nil, err
	}
	if changed {
		t.metrics.RecordTaskConcluded(string(models.TaskCompleted))
		t.log.Info("task completed", logging.Account(accountID), logging.Request(requestID))
	}
	return task, nil
}

// setStatus moves a non-terminal task to status, recording reason when set.
func (t *Tracker) setStatus(ctx context.Context, accountID, requestID string, status models.TaskStatus, reason string) (*models.Task, bool, error) {
	at := t.now()
	task, changed, err := t.mutateTask(ctx, accountID, requestID,
		func(tk *models.Task) bool {
			if tk.Status.Terminal() {
				return false
			}
			tk.Status = status
			if reason != "" {
				tk.ErrorReason = reason
			}
			if status.Terminal() && tk.ConcludedAt == nil {
				tk.ConcludedAt = &at
			}
			return true
		},
		func(tk *models.Task) map[string]interface{} {
			return map[string]interface{}{
				"status":       tk.Status,
				"error_reason": tk.ErrorReason,
				"concluded_at": tk.ConcludedAt,
			}
		})
	if err != nil {
		if isNotFound(err) {
			return nil, false, fmt.Errorf("tracker: %s: %w", requestID, ErrTaskNotFound)
		}
		return nil, false, fmt.Errorf("tracker: set status %s on %s: %w", status, requestID, err)
	}
	return task, changed, nil
}
