// Package orchestrator owns the per-conversation lifecycle: it reacts to
// inbound platform events, schedules synthetic consumer replies, opens and
// closes conversations through the platform gateway and books conclusions
// against their task. Every write goes through to both the fast cache and
// the durable store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/convoy/internal/analysis"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/metrics"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/persona"
	"github.com/zulandar/convoy/internal/platform"
	"github.com/zulandar/convoy/internal/store"
	"go.uber.org/zap"
)

// Store is the durable state the orchestrator reads and writes.
type Store interface {
	GetTask(ctx context.Context, accountID, requestID string) (*models.Task, error)
	UpdateTask(ctx context.Context, accountID, requestID string, fields map[string]interface{}) error
	AddCompletedConversation(ctx context.Context, accountID, requestID, conversationID string) (int, bool, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, accountID, conversationID string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, accountID, conversationID string, fields map[string]interface{}) error
	CountConversationsByRequest(ctx context.Context, accountID, requestID string) (int64, error)
	ListDueReplies(ctx context.Context, nowMillis int64, limit int) ([]models.Conversation, error)
}

// Cache is the fast mirror consulted before the store.
type Cache interface {
	GetConversation(accountID, conversationID string) (*models.Conversation, bool)
	SetConversation(conv *models.Conversation)
	UpdateConversation(accountID, conversationID string, fn func(*models.Conversation)) (*models.Conversation, bool)
	RemoveActive(accountID, conversationID string)
	GetTask(accountID, requestID string) (*models.Task, bool)
	SetTask(task *models.Task)
	UpdateTask(accountID, requestID string, fn func(*models.Task)) (*models.Task, bool)
	MaxConversationLimit(accountID, requestID string) (int, bool)
	TaskConversationCount(accountID, requestID string) (int, bool)
	SetTaskConversationCount(accountID, requestID string, n int)
	IncrementTaskConversationCount(accountID, requestID string) int
	SetIfAbsent(key string, value any, ttl time.Duration) bool
	Delete(key string)
}

// Listener consumes conversation conclusions, typically the task tracker.
type Listener interface {
	OnConversationConcluded(ctx context.Context, ev models.ConversationConcluded)
}

// Notifier tells operators about tasks that failed.
type Notifier interface {
	TaskFailed(ctx context.Context, task *models.Task, reason string)
}

// Opts configures an Orchestrator.
type Opts struct {
	Store    Store
	Cache    Cache
	Gateway  platform.Gateway
	Handoff  analysis.Handoff
	Listener Listener
	Notifier Notifier
	Personas *persona.Generator
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Rand     IntSource
	Now      func() time.Time

	DefaultDelay  time.Duration // 0 → DefaultReplyDelay
	CloseGuardTTL time.Duration // 0 → 5m
}

// Orchestrator drives synthetic conversations.
type Orchestrator struct {
	store    Store
	cache    Cache
	gateway  platform.Gateway
	handoff  analysis.Handoff
	listener Listener
	notifier Notifier
	personas *persona.Generator
	log      *zap.Logger
	metrics  *metrics.Metrics
	rand     IntSource
	now      func() time.Time

	defaultDelay  time.Duration
	closeGuardTTL time.Duration
}

// New creates an orchestrator, validating required dependencies.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("orchestrator: cache is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("orchestrator: gateway is required")
	}

	o := &Orchestrator{
		store:         opts.Store,
		cache:         opts.Cache,
		gateway:       opts.Gateway,
		handoff:       opts.Handoff,
		listener:      opts.Listener,
		notifier:      opts.Notifier,
		personas:      opts.Personas,
		log:           logging.OrNop(opts.Logger),
		metrics:       opts.Metrics,
		rand:          opts.Rand,
		now:           opts.Now,
		defaultDelay:  opts.DefaultDelay,
		closeGuardTTL: opts.CloseGuardTTL,
	}
	if o.handoff == nil {
		o.handoff = analysis.Nop{}
	}
	if o.personas == nil {
		o.personas = persona.New()
	}
	if o.rand == nil {
		o.rand = SecureRand{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.defaultDelay <= 0 {
		o.defaultDelay = DefaultReplyDelay
	}
	if o.closeGuardTTL <= 0 {
		o.closeGuardTTL = 5 * time.Minute
	}
	return o, nil
}

// SetListener wires the conclusion consumer. It must be called before the
// orchestrator starts receiving events.
func (o *Orchestrator) SetListener(l Listener) {
	o.listener = l
}

// Conversation returns a conversation, cache first, repopulating the cache
// on a store hit.
func (o *Orchestrator) Conversation(ctx context.Context, accountID, conversationID string) (*models.Conversation, error) {
	return o.lookupConversation(ctx, accountID, conversationID, true)
}

// lookupConversation reads cache then store. Existence checks pass
// repopulate=false so traffic for foreign conversations never fills the cache.
func (o *Orchestrator) lookupConversation(ctx context.Context, accountID, conversationID string, repopulate bool) (*models.Conversation, error) {
	if conv, ok := o.cache.GetConversation(accountID, conversationID); ok {
		return conv, nil
	}
	conv, err := o.store.GetConversation(ctx, accountID, conversationID)
	if err != nil {
		return nil, err
	}
	if repopulate {
		o.cache.SetConversation(conv)
	}
	return conv, nil
}

// Task returns a task, cache first, repopulating the cache on a store hit.
func (o *Orchestrator) Task(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	if task, ok := o.cache.GetTask(accountID, requestID); ok {
		return task, nil
	}
	task, err := o.store.GetTask(ctx, accountID, requestID)
	if err != nil {
		return nil, err
	}
	o.cache.SetTask(task)
	return task, nil
}

// liveTask is Task for the event and spawn paths. A cached copy that still
// looks live is confirmed against the store, where a cancel issued by another
// process lands; a terminal status found there is copied into the cache.
func (o *Orchestrator) liveTask(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	cached, ok := o.cache.GetTask(accountID, requestID)
	if ok && cached.Status.Terminal() {
		return cached, nil
	}
	stored, err := o.store.GetTask(ctx, accountID, requestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		o.cache.SetTask(stored)
		return stored, nil
	}
	if !stored.Status.Terminal() {
		return cached, nil
	}
	o.cache.UpdateTask(accountID, requestID, func(t *models.Task) {
		t.Status = stored.Status
		t.ErrorReason = stored.ErrorReason
		t.ConcludedAt = stored.ConcludedAt
	})
	o.log.Info("task finished outside this process",
		logging.Account(accountID), logging.Request(requestID), zap.String("status", string(stored.Status)))
	return stored, nil
}

// mutateConversation applies fn atomically to the cached copy (or to conv
// when it is not cached) and persists fields(updated) to the store.
func (o *Orchestrator) mutateConversation(ctx context.Context, conv *models.Conversation, fn func(*models.Conversation), fields func(*models.Conversation) map[string]interface{}) (*models.Conversation, error) {
	updated, ok := o.cache.UpdateConversation(conv.AccountID, conv.ID, fn)
	if !ok {
		updated = conv.Clone()
		fn(updated)
		o.cache.SetConversation(updated)
	}
	if err := o.store.UpdateConversation(ctx, conv.AccountID, conv.ID, fields(updated)); err != nil {
		return nil, err
	}
	return updated, nil
}

// mutateTask is mutateConversation for tasks.
func (o *Orchestrator) mutateTask(ctx context.Context, accountID, requestID string, fn func(*models.Task), fields func(*models.Task) map[string]interface{}) (*models.Task, error) {
	updated, ok := o.cache.UpdateTask(accountID, requestID, fn)
	if !ok {
		task, err := o.store.GetTask(ctx, accountID, requestID)
		if err != nil {
			return nil, err
		}
		fn(task)
		o.cache.SetTask(task)
		updated = task
	}
	if err := o.store.UpdateTask(ctx, accountID, requestID, fields(updated)); err != nil {
		return nil, err
	}
	return updated, nil
}

// failTask moves a task to ERROR with reason and tells operators.
func (o *Orchestrator) failTask(ctx context.Context, accountID, requestID, reason string) {
	task, err := o.mutateTask(ctx, accountID, requestID,
		func(t *models.Task) {
			t.Status = models.TaskError
			t.ErrorReason = reason
		},
		func(t *models.Task) map[string]interface{} {
			return map[string]interface{}{"status": t.Status, "error_reason": t.ErrorReason}
		})
	if err != nil {
		o.log.Error("failed to record task error",
			logging.Account(accountID), logging.Request(requestID), zap.String("reason", reason), zap.Error(err))
		return
	}
	o.metrics.RecordTaskConcluded(string(models.TaskError))
	if o.notifier != nil {
		o.notifier.TaskFailed(ctx, task, reason)
	}
}

// recordTaskError stores reason on the task without changing its status.
func (o *Orchestrator) recordTaskError(ctx context.Context, accountID, requestID, reason string) {
	if requestID == "" {
		return
	}
	_, err := o.mutateTask(ctx, accountID, requestID,
		func(t *models.Task) { t.ErrorReason = reason },
		func(t *models.Task) map[string]interface{} {
			return map[string]interface{}{"error_reason": t.ErrorReason}
		})
	if err != nil {
		o.log.Error("failed to record task error reason",
			logging.Account(accountID), logging.Request(requestID), zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
