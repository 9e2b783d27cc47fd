// Package tracker aggregates conversation state per task and decides whether
// to open another conversation, wait, or conclude the task.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/convoy/internal/analysis"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/metrics"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/store"
	"go.uber.org/zap"
)

// Store is the durable state the tracker reads and writes.
type Store interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, accountID, requestID string) (*models.Task, error)
	UpdateTask(ctx context.Context, accountID, requestID string, fields map[string]interface{}) error
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	ListConversationsByRequest(ctx context.Context, accountID, requestID string) ([]models.Conversation, error)
}

// Cache is the fast mirror consulted before the store.
type Cache interface {
	GetTask(accountID, requestID string) (*models.Task, bool)
	SetTask(task *models.Task)
	UpdateTask(accountID, requestID string, fn func(*models.Task)) (*models.Task, bool)
	ConversationsByRequest(accountID, requestID string) ([]*models.Conversation, bool)
	SetTaskConversationCount(accountID, requestID string, n int)
	ClearTaskConversationCount(accountID, requestID string)
}

// Creator opens one conversation for a task.
type Creator interface {
	CreateConversation(ctx context.Context, task *models.Task) (string, error)
}

// Notifier tells operators that a task finished its conversations.
type Notifier interface {
	TaskConcluded(ctx context.Context, task *models.Task)
}

// Opts configures a Tracker.
type Opts struct {
	Store    Store
	Cache    Cache
	Creator  Creator
	Handoff  analysis.Handoff
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time

	DefaultMaxTurns int // applied by StartTask when a task leaves MaxTurns at 0
}

// Tracker computes task progress and drives each task to conclusion.
type Tracker struct {
	store    Store
	cache    Cache
	creator  Creator
	handoff  analysis.Handoff
	notifier Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	defaultMaxTurns int
}

// New creates a tracker, validating required dependencies.
func New(opts Opts) (*Tracker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tracker: store is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("tracker: cache is required")
	}
	if opts.Creator == nil {
		return nil, fmt.Errorf("tracker: creator is required")
	}
	t := &Tracker{
		store:           opts.Store,
		cache:           opts.Cache,
		creator:         opts.Creator,
		handoff:         opts.Handoff,
		notifier:        opts.Notifier,
		log:             logging.OrNop(opts.Logger),
		metrics:         opts.Metrics,
		now:             opts.Now,
		defaultMaxTurns: opts.DefaultMaxTurns,
	}
	if t.handoff == nil {
		t.handoff = analysis.Nop{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// GetTask returns a task, cache first, repopulating the cache on a store hit.
func (t *Tracker) GetTask(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	if task, ok := t.cache.GetTask(accountID, requestID); ok {
		return task, nil
	}
	task, err := t.store.GetTask(ctx, accountID, requestID)
	if err != nil {
		return nil, fmt.Errorf("tracker: get task %s: %w", requestID, err)
	}
	t.cache.SetTask(task)
	return task, nil
}

// OnConversationConcluded recomputes the owning task's progress after a
// conversation closes and acts on it. Duplicate and failed conclusions are
// ignored.
func (t *Tracker) OnConversationConcluded(ctx context.Context, ev models.ConversationConcluded) {
	log := t.log.With(logging.Account(ev.AccountID), logging.Request(ev.RequestID), logging.Conversation(ev.ConversationID))
	switch {
	case ev.Err != nil:
		log.Debug("skipping failed conclusion", zap.Error(ev.Err))
		return
	case ev.Duplicate:
		log.Debug("skipping duplicate conclusion")
		return
	case ev.RequestID == "":
		return
	}

	task, err := t.GetTask(ctx, ev.AccountID, ev.RequestID)
	if err != nil {
		log.Error("conclusion for unknown task", zap.Error(err))
		return
	}
	if _, err := t.Evaluate(ctx, task); err != nil {
		log.Error("task evaluation failed", zap.Error(err))
	}
}

// Evaluate computes progress for an open task and applies the next action.
// The status is confirmed against the store first, since a task may have
// been cancelled by another process.
func (t *Tracker) Evaluate(ctx context.Context, task *models.Task) (Decision, error) {
	if !evaluable(task.Status) {
		return DecisionNone, nil
	}
	task, err := t.confirmStatus(ctx, task)
	if err != nil {
		return DecisionNone, err
	}
	if !evaluable(task.Status) {
		return DecisionNone, nil
	}
	p, err := t.GetTaskProgress(ctx, task)
	if err != nil {
		return DecisionNone, err
	}
	return t.NextAction(ctx, task, p)
}

// Tick evaluates every in-progress task once.
func (t *Tracker) Tick(ctx context.Context) error {
	tasks, err := t.store.ListTasksByStatus(ctx, models.TaskInProgress)
	if err != nil {
		return fmt.Errorf("tracker: list in-progress tasks: %w", err)
	}
	var errs []error
	for i := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task, err := t.GetTask(ctx, tasks[i].AccountID, tasks[i].ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := t.Evaluate(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("tracker: evaluate %s: %w", task.ID, err))
		}
	}
	return errors.Join(errs...)
}

// confirmStatus re-reads the task's status from the store. When the store no
// longer considers the task evaluable, the cached copy is brought in line.
func (t *Tracker) confirmStatus(ctx context.Context, task *models.Task) (*models.Task, error) {
	stored, err := t.store.GetTask(ctx, task.AccountID, task.ID)
	if err != nil {
		return nil, fmt.Errorf("tracker: confirm status of %s: %w", task.ID, err)
	}
	if evaluable(stored.Status) {
		return task, nil
	}
	updated, ok := t.cache.UpdateTask(task.AccountID, task.ID, func(tk *models.Task) {
		tk.Status = stored.Status
		tk.ErrorReason = stored.ErrorReason
		tk.ConcludedAt = stored.ConcludedAt
	})
	if !ok {
		t.cache.SetTask(stored)
		updated = stored
	}
	return updated, nil
}

// evaluable reports whether conversations of a task in status s still drive
// decisions.
func evaluable(s models.TaskStatus) bool {
	return s == models.TaskPending || s == models.TaskInProgress
}

// mutateTask applies fn atomically to the cached task (or a store copy when
// not cached) and persists fields(updated) when fn reports a change.
func (t *Tracker) mutateTask(ctx context.Context, accountID, requestID string, fn func(*models.Task) bool, fields func(*models.Task) map[string]interface{}) (*models.Task, bool, error) {
	changed := false
	apply := func(task *models.Task) { changed = fn(task) }
	updated, ok := t.cache.UpdateTask(accountID, requestID, apply)
	if !ok {
		task, err := t.store.GetTask(ctx, accountID, requestID)
		if err != nil {
			return nil, false, err
		}
		apply(task)
		t.cache.SetTask(task)
		updated = task
	}
	if !changed {
		return updated, false, nil
	}
	if err := t.store.UpdateTask(ctx, accountID, requestID, fields(updated)); err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
