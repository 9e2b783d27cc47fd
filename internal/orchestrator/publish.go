package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// PublishResult is what became of a consumer reply.
type PublishResult string

const (
	PublishSent    PublishResult = "sent"
	PublishSkipped PublishResult = "skipped"
	PublishFailed  PublishResult = "failed"
)

// PublishConsumerMessage sends the synthetic consumer's reply. Missing text
// or conversation id is an error; every other failure is logged and
// swallowed so one bad reply cannot stall the sweep. On success the buffered
// agent messages are cleared and the reply is no longer pending, unless more
// agent messages arrived while the reply was in flight.
func (o *Orchestrator) PublishConsumerMessage(ctx context.Context, accountID, conversationID, dialogID, text string) error {
	_, err := o.publish(ctx, accountID, conversationID, dialogID, text, -1)
	return err
}

// PublishReply sends text as the reply to conv as the caller read it. Only
// the agent messages counted in conv.AgentMessagesSentCount are answered;
// later ones stay buffered and keep the reply owed. Swallowed failures are
// reported as PublishFailed.
func (o *Orchestrator) PublishReply(ctx context.Context, conv *models.Conversation, text string) (PublishResult, error) {
	if conv == nil {
		return PublishFailed, fmt.Errorf("orchestrator: publish: conversation: %w", ErrMissingIdentifier)
	}
	return o.publish(ctx, conv.AccountID, conv.ID, conv.DialogID, text, conv.AgentMessagesSentCount)
}

// publish sends text and books it against the first answered agent messages.
// answered < 0 means everything buffered when the conversation is loaded.
func (o *Orchestrator) publish(ctx context.Context, accountID, conversationID, dialogID, text string, answered int) (PublishResult, error) {
	if text == "" {
		return PublishFailed, fmt.Errorf("orchestrator: publish to %s: %w", conversationID, ErrEmptyMessage)
	}
	if conversationID == "" {
		return PublishFailed, fmt.Errorf("orchestrator: publish: conversation id: %w", ErrMissingIdentifier)
	}
	log := o.log.With(logging.Account(accountID), logging.Conversation(conversationID))

	conv, err := o.lookupConversation(ctx, accountID, conversationID, true)
	if err != nil {
		log.Warn("publish skipped: conversation not loaded", zap.Error(err))
		return PublishSkipped, nil
	}
	if conv.Status == models.StageClose {
		log.Info("publish skipped: conversation closed")
		return PublishSkipped, nil
	}
	if answered < 0 {
		answered = conv.AgentMessagesSentCount
	}

	dialog := conv.DialogID
	if dialog == "" {
		dialog = dialogID
	}
	if dialog == "" {
		dialog = conversationID
	}

	appToken, err := o.gateway.AppToken(ctx, accountID)
	if err != nil {
		o.metrics.RecordReply(false)
		log.Error("publish failed: app token", zap.Error(err))
		return PublishFailed, nil
	}
	if err := o.gateway.PublishMessage(ctx, accountID, appToken, conv.ConsumerToken, conversationID, dialog, text); err != nil {
		o.metrics.RecordReply(false)
		log.Error("publish failed", logging.Dialog(dialog), zap.Error(err))
		return PublishFailed, nil
	}
	o.metrics.RecordReply(true)

	unanswered := 0
	updated, err := o.mutateConversation(ctx, conv,
		func(c *models.Conversation) {
			c.ConsumerMessagesSentCount++
			unanswered = min(c.AgentMessagesSentCount-answered, len(c.AgentMessages))
			if unanswered > 0 {
				c.AgentMessages = slices.Clone(c.AgentMessages[len(c.AgentMessages)-unanswered:])
				return
			}
			c.AgentMessages = nil
			c.PendingConsumer = false
			c.Queued = false
		},
		func(c *models.Conversation) map[string]interface{} {
			return map[string]interface{}{
				"agent_messages":               append(datatypes.JSONSlice[string]{}, c.AgentMessages...),
				"pending_consumer":             c.PendingConsumer,
				"queued":                       c.Queued,
				"consumer_messages_sent_count": c.ConsumerMessagesSentCount,
			}
		})
	if err != nil {
		log.Error("reply published but conversation update failed", zap.Error(err))
		return PublishSent, nil
	}
	if unanswered > 0 {
		log.Debug("consumer reply published, newer agent messages still owed a reply",
			logging.Dialog(dialog), zap.Int("unanswered", unanswered),
			zap.Int64("respond_at", updated.PendingConsumerRespondTime))
		return PublishSent, nil
	}
	log.Debug("consumer reply published", logging.Dialog(dialog))
	return PublishSent, nil
}

// DueReplies returns conversations whose consumer reply is due at now.
func (o *Orchestrator) DueReplies(ctx context.Context, now time.Time, limit int) ([]models.Conversation, error) {
	convs, err := o.store.ListDueReplies(ctx, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: due replies: %w", err)
	}
	return convs, nil
}
