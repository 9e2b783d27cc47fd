package orchestrator

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"go.uber.org/zap"
)

// CloseConversation asks the platform to close the whole conversation.
func (o *Orchestrator) CloseConversation(ctx context.Context, accountID, conversationID string) error {
	return o.close(ctx, accountID, conversationID, "", "", false)
}

// CloseDialog closes only dialogID (defaulting to the conversation's current
// dialog), which moves the conversation on to its post-conversation survey.
func (o *Orchestrator) CloseDialog(ctx context.Context, accountID, conversationID, dialogID, cause string) error {
	return o.close(ctx, accountID, conversationID, dialogID, cause, true)
}

// close validates identifiers, which are fatal when missing, then issues the
// close. Platform failures are logged and swallowed.
func (o *Orchestrator) close(ctx context.Context, accountID, conversationID, dialogID, cause string, dialogOnly bool) error {
	if accountID == "" {
		return fmt.Errorf("orchestrator: close: account id: %w", ErrMissingIdentifier)
	}
	if conversationID == "" {
		return fmt.Errorf("orchestrator: close: conversation id: %w", ErrMissingIdentifier)
	}
	conv, err := o.lookupConversation(ctx, accountID, conversationID, true)
	if err != nil {
		return fmt.Errorf("orchestrator: close %s: %w", conversationID, err)
	}
	if conv.ConsumerToken == "" {
		reason := fmt.Sprintf("close conversation %s: consumer token missing", conversationID)
		o.recordTaskError(ctx, accountID, conv.RequestID, reason)
		return fmt.Errorf("orchestrator: %s: %w", reason, ErrMissingIdentifier)
	}
	appToken, err := o.gateway.AppToken(ctx, accountID)
	if err != nil || appToken == "" {
		reason := fmt.Sprintf("close conversation %s: app token unavailable", conversationID)
		o.recordTaskError(ctx, accountID, conv.RequestID, reason)
		if err != nil {
			return fmt.Errorf("orchestrator: %s: %w: %w", reason, ErrMissingIdentifier, err)
		}
		return fmt.Errorf("orchestrator: %s: %w", reason, ErrMissingIdentifier)
	}

	if dialogOnly && dialogID == "" {
		dialogID = conv.DialogID
		if dialogID == "" {
			dialogID = conversationID
		}
	}

	log := o.log.With(logging.Account(accountID), logging.Conversation(conversationID), logging.Dialog(dialogID))
	if err := o.gateway.CloseConversation(ctx, accountID, appToken, conv.ConsumerToken, conversationID, dialogID, cause); err != nil {
		log.Error("close request failed", zap.String("cause", cause), zap.Error(err))
		return nil
	}
	log.Info("close requested", zap.String("cause", cause))
	return nil
}
