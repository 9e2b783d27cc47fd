package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Action is what ProcessContentEvent did with an event.
type Action string

const (
	ActionDiscarded      Action = "discarded"
	ActionScheduled      Action = "scheduled"
	ActionCloseRequested Action = "close_requested"
)

// Discard reasons reported in Outcome.Reason.
const (
	ReasonNoAgentChange = "no_agent_change"
	ReasonEmptyMessage  = "empty_message"
	ReasonAudience      = "audience"
	ReasonController    = "controller"
	ReasonUnknown       = "unknown_conversation"
	ReasonPaused        = "paused"
	ReasonInactive      = "inactive"
	ReasonTaskMissing   = "task_missing"
	ReasonTaskTerminal  = "task_terminal"
)

// CloseCauseTurns tags dialog closes caused by the turn limit.
const CloseCauseTurns = "AgentTurnsExceeded"

// Outcome reports how a content event was handled. Discards are expected
// noise, not errors.
type Outcome struct {
	Action         Action
	Reason         string
	ConversationID string
	AgentTurns     int
	Delay          time.Duration
}

// Discarded reports whether the event was filtered out.
func (o Outcome) Discarded() bool { return o.Action == ActionDiscarded }

func discard(reason, conversationID string) Outcome {
	return Outcome{Action: ActionDiscarded, Reason: reason, ConversationID: conversationID}
}

// ProcessContentEvent buffers the latest agent message of an event onto its
// conversation and schedules the consumer's reply, or requests a close once
// the task's turn limit is exceeded.
func (o *Orchestrator) ProcessContentEvent(ctx context.Context, accountID string, ev ContentEvent) (Outcome, error) {
	o.metrics.RecordEvent("content")
	out, err := o.processContent(ctx, accountID, ev)
	if out.Discarded() {
		o.metrics.RecordDiscard(out.Reason)
		o.log.Debug("content event discarded",
			logging.Account(accountID), logging.Conversation(out.ConversationID), zap.String("reason", out.Reason))
	}
	return out, err
}

func (o *Orchestrator) processContent(ctx context.Context, accountID string, ev ContentEvent) (Outcome, error) {
	change, ok := lastAgentChange(ev.Body.Changes)
	if !ok {
		return discard(ReasonNoAgentChange, ""), nil
	}
	convID := change.ConversationID
	switch {
	case change.Event.empty():
		return discard(ReasonEmptyMessage, convID), nil
	case change.MessageAudience != AudienceAll:
		return discard(ReasonAudience, convID), nil
	case change.Role == RoleController:
		return discard(ReasonController, convID), nil
	}

	conv, err := o.lookupConversation(ctx, accountID, convID, true)
	if err != nil {
		if isNotFound(err) {
			return discard(ReasonUnknown, convID), nil
		}
		return Outcome{}, fmt.Errorf("orchestrator: load conversation %s: %w", convID, err)
	}
	postSurvey := conv.IsPostSurvey() || change.DialogType == models.DialogPostSurvey
	switch {
	case conv.State == models.StatePaused:
		return discard(ReasonPaused, convID), nil
	case !conv.Active && !postSurvey:
		return discard(ReasonInactive, convID), nil
	}

	task, err := o.liveTask(ctx, accountID, conv.RequestID)
	if err != nil {
		if isNotFound(err) {
			return discard(ReasonTaskMissing, convID), nil
		}
		return Outcome{}, fmt.Errorf("orchestrator: load task %s: %w", conv.RequestID, err)
	}
	if task.Status.Terminal() {
		return discard(ReasonTaskTerminal, convID), nil
	}

	now := o.now()
	rendered := renderMessage(change.Event, now)
	delay := o.replyDelay(task, postSurvey)
	overLimit := false

	apply := func(c *models.Conversation) {
		if len(c.AgentMessages) == 0 {
			c.AgentTurns++
		}
		c.AgentMessages = append(c.AgentMessages, rendered)
		c.AgentMessagesSentCount++
		at := now
		c.LastAgentMessageTime = &at
		if change.DialogID != "" {
			c.DialogID = change.DialogID
		}
		if change.DialogType != "" {
			c.DialogType = change.DialogType
		}

		overLimit = task.MaxTurns > 0 && c.AgentTurns > task.MaxTurns && !postSurvey
		if overLimit {
			c.PendingConsumer = false
			c.Queued = false
			return
		}
		c.PendingConsumer = true
		c.PendingConsumerRespondTime = now.Add(delay).UnixMilli()
		c.Queued = true
		if postSurvey {
			c.Active = true
		}
	}

	updated, err := o.mutateConversation(ctx, conv, apply, contentFields)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: save conversation %s: %w", convID, err)
	}

	if overLimit {
		o.log.Info("agent turn limit exceeded, closing dialog",
			logging.Account(accountID), logging.Conversation(convID),
			zap.Int("agent_turns", updated.AgentTurns), zap.Int("max_turns", task.MaxTurns))
		o.closeForTurnLimit(ctx, updated)
		return Outcome{Action: ActionCloseRequested, ConversationID: convID, AgentTurns: updated.AgentTurns}, nil
	}

	o.log.Debug("consumer reply scheduled",
		logging.Account(accountID), logging.Conversation(convID),
		zap.Int("agent_turns", updated.AgentTurns), zap.Duration("delay", delay))
	return Outcome{Action: ActionScheduled, ConversationID: convID, AgentTurns: updated.AgentTurns, Delay: delay}, nil
}

func contentFields(c *models.Conversation) map[string]interface{} {
	return map[string]interface{}{
		"agent_messages":                datatypes.JSONSlice[string](c.AgentMessages),
		"agent_turns":                   c.AgentTurns,
		"agent_messages_sent_count":     c.AgentMessagesSentCount,
		"last_agent_message_time":       c.LastAgentMessageTime,
		"pending_consumer":              c.PendingConsumer,
		"pending_consumer_respond_time": c.PendingConsumerRespondTime,
		"queued":                        c.Queued,
		"dialog_id":                     c.DialogID,
		"dialog_type":                   c.DialogType,
		"active":                        c.Active,
	}
}

// closeForTurnLimit closes the current dialog once. A short-lived cache
// guard stops a burst of agent messages from issuing several closes.
func (o *Orchestrator) closeForTurnLimit(ctx context.Context, conv *models.Conversation) {
	key := "closing:" + conv.AccountID + ":" + conv.ID
	if !o.cache.SetIfAbsent(key, true, o.closeGuardTTL) {
		return
	}
	dialogID := conv.DialogID
	if dialogID == "" {
		dialogID = conv.ID
	}
	if err := o.CloseDialog(ctx, conv.AccountID, conv.ID, dialogID, CloseCauseTurns); err != nil {
		o.cache.Delete(key)
		o.log.Error("turn limit close failed",
			logging.Account(conv.AccountID), logging.Conversation(conv.ID), zap.Error(err))
	}
}
