package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
)

// dialogStateOpen is the remote state of a live dialog.
const dialogStateOpen = "OPEN"

// HandleStateChange applies a batch of remote conversation state changes.
// Conversations convoy does not own are skipped. A CLOSE stage concludes the
// conversation and hands the result to the listener; a newly opened dialog
// (for example a post-conversation survey) is recorded.
func (o *Orchestrator) HandleStateChange(ctx context.Context, accountID string, ev StateChangeEvent) error {
	o.metrics.RecordEvent("state")
	var errs []error
	for _, change := range ev.Body.Changes {
		if err := o.applyStateChange(ctx, accountID, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) applyStateChange(ctx context.Context, accountID string, change StateChange) error {
	convID := change.Result.ConvID
	if convID == "" {
		return nil
	}
	conv, err := o.lookupConversation(ctx, accountID, convID, false)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("orchestrator: state change %s: %w", convID, err)
	}
	details := change.Result.ConversationDetails
	log := o.log.With(logging.Account(accountID), logging.Conversation(convID))

	if details.Stage == models.StageClose {
		res := o.ConcludeConversation(ctx, accountID, convID)
		if err := o.markRemoteClosed(ctx, accountID, convID); err != nil {
			log.Error("failed to mark conversation CLOSE", zap.Error(err))
		}
		if o.listener != nil {
			o.listener.OnConversationConcluded(ctx, res)
		}
		return nil
	}

	dialog, ok := newOpenDialog(details.Dialogs, conv.DialogID)
	if !ok {
		return nil
	}
	stage := details.Stage
	if stage == "" {
		stage = conv.Status
	}
	_, err = o.mutateConversation(ctx, conv,
		func(c *models.Conversation) {
			c.DialogID = dialog.DialogID
			c.DialogType = dialog.DialogType
			c.Status = stage
			if dialog.DialogType == models.DialogPostSurvey {
				c.Active = true
			}
		},
		func(c *models.Conversation) map[string]interface{} {
			return map[string]interface{}{
				"dialog_id":   c.DialogID,
				"dialog_type": c.DialogType,
				"status":      c.Status,
				"active":      c.Active,
			}
		})
	if err != nil {
		return fmt.Errorf("orchestrator: record dialog %s: %w", dialog.DialogID, err)
	}
	log.Info("dialog transition", logging.Dialog(dialog.DialogID), zap.String("dialog_type", dialog.DialogType))
	return nil
}

// newOpenDialog finds an open dialog other than the one already recorded.
func newOpenDialog(dialogs []Dialog, current string) (Dialog, bool) {
	for _, d := range dialogs {
		if d.State == dialogStateOpen && d.DialogID != "" && d.DialogID != current {
			return d, true
		}
	}
	return Dialog{}, false
}
