package orchestrator

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
)

// ConcludeConversation books a closed conversation against its task exactly
// once and hands it to analysis. It never fails the caller: problems are
// logged and reported in the returned value, and repeated calls for the same
// conversation come back with Duplicate set.
func (o *Orchestrator) ConcludeConversation(ctx context.Context, accountID, conversationID string) models.ConversationConcluded {
	res := models.ConversationConcluded{AccountID: accountID, ConversationID: conversationID}
	log := o.log.With(logging.Account(accountID), logging.Conversation(conversationID))

	conv, err := o.lookupConversation(ctx, accountID, conversationID, true)
	if err != nil {
		res.Err = fmt.Errorf("orchestrator: conclude %s: %w", conversationID, err)
		log.Error("conclude failed: conversation not loaded", zap.Error(err))
		return res
	}
	res.RequestID = conv.RequestID
	log = log.With(logging.Request(conv.RequestID))

	if conv.State != models.StateClosed {
		if err := models.Transition(conv.State, models.StateAnalysing); err != nil {
			log.Warn("unexpected state at conclusion", zap.Error(err))
		}
		conv, err = o.mutateConversation(ctx, conv,
			func(c *models.Conversation) { c.State = models.StateAnalysing },
			func(c *models.Conversation) map[string]interface{} {
				return map[string]interface{}{"state": c.State}
			})
		if err != nil {
			res.Err = fmt.Errorf("orchestrator: conclude %s: mark analysing: %w", conversationID, err)
			log.Error("conclude failed: mark analysing", zap.Error(err))
			return res
		}
	}

	completed, added, err := o.store.AddCompletedConversation(ctx, accountID, conv.RequestID, conversationID)
	if err != nil {
		res.Err = fmt.Errorf("orchestrator: conclude %s: %w", conversationID, err)
		log.Error("conclude failed: task bookkeeping", zap.Error(err))
		return res
	}
	res.CompletedConversations = completed
	res.Duplicate = !added
	o.metrics.RecordConcluded(res.Duplicate)

	if res.Duplicate {
		log.Info("conversation already concluded", zap.Int("completed_conversations", completed))
	} else {
		o.cache.UpdateTask(accountID, conv.RequestID, func(t *models.Task) {
			if !t.HasCompleted(conversationID) {
				t.CompletedConvIDs = append(t.CompletedConvIDs, conversationID)
			}
			t.CompletedConversations = completed
		})
		if err := o.handoff.ConcludeConversation(ctx, accountID, conv.RequestID, conversationID); err != nil {
			log.Warn("analysis handoff failed for conversation", zap.Error(err))
		}
		log.Info("conversation concluded", zap.Int("completed_conversations", completed))
	}

	if conv.State != models.StateClosed {
		closedAt := o.now()
		_, err := o.mutateConversation(ctx, conv,
			func(c *models.Conversation) {
				c.State = models.StateClosed
				c.Active = false
				c.PendingConsumer = false
				c.Queued = false
				c.ClosedAt = &closedAt
			},
			func(c *models.Conversation) map[string]interface{} {
				return map[string]interface{}{
					"state":            c.State,
					"active":           false,
					"pending_consumer": false,
					"queued":           false,
					"closed_at":        c.ClosedAt,
				}
			})
		if err != nil {
			log.Error("failed to mark conversation closed", zap.Error(err))
		}
	}
	o.cache.RemoveActive(accountID, conversationID)
	return res
}

// markRemoteClosed mirrors the platform's CLOSE stage locally.
func (o *Orchestrator) markRemoteClosed(ctx context.Context, accountID, conversationID string) error {
	conv, err := o.lookupConversation(ctx, accountID, conversationID, false)
	if err != nil {
		return err
	}
	_, err = o.mutateConversation(ctx, conv,
		func(c *models.Conversation) {
			c.Status = models.StageClose
			c.Active = false
		},
		func(c *models.Conversation) map[string]interface{} {
			return map[string]interface{}{"status": c.Status, "active": false}
		})
	return err
}
