package orchestrator

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
)

// Pause suspends event processing for a conversation.
func (o *Orchestrator) Pause(ctx context.Context, accountID, conversationID string) error {
	return o.setState(ctx, accountID, conversationID, models.StatePaused)
}

// Resume re-enables event processing for a paused conversation.
func (o *Orchestrator) Resume(ctx context.Context, accountID, conversationID string) error {
	return o.setState(ctx, accountID, conversationID, models.StateActive)
}

func (o *Orchestrator) setState(ctx context.Context, accountID, conversationID string, to models.ConversationState) error {
	conv, err := o.lookupConversation(ctx, accountID, conversationID, true)
	if err != nil {
		return fmt.Errorf("orchestrator: set state %s: %w", conversationID, err)
	}
	if err := models.Transition(conv.State, to); err != nil {
		return fmt.Errorf("orchestrator: conversation %s: %w", conversationID, err)
	}
	_, err = o.mutateConversation(ctx, conv,
		func(c *models.Conversation) { c.State = to },
		func(c *models.Conversation) map[string]interface{} {
			return map[string]interface{}{"state": c.State}
		})
	if err != nil {
		return fmt.Errorf("orchestrator: set state %s: %w", conversationID, err)
	}
	o.log.Info("conversation state changed",
		logging.Account(accountID), logging.Conversation(conversationID))
	return nil
}
