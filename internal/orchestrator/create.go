package orchestrator

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/platform"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// CreateConversation registers a consumer and opens one conversation for
// task. Exceeding the task's conversation limit is fatal for the task: it is
// moved to ERROR and ErrConversationLimitExceeded is returned.
func (o *Orchestrator) CreateConversation(ctx context.Context, task *models.Task) (string, error) {
	if task == nil || task.AccountID == "" || task.ID == "" {
		return "", fmt.Errorf("orchestrator: create conversation: account and request id: %w", ErrMissingIdentifier)
	}
	accountID, requestID := task.AccountID, task.ID

	current, err := o.liveTask(ctx, accountID, requestID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: create conversation: load task %s: %w", requestID, err)
	}
	if current.Status.Terminal() {
		return "", fmt.Errorf("orchestrator: create conversation for %s (%s): %w", requestID, current.Status, ErrTaskTerminal)
	}

	count, err := o.inflightCount(ctx, accountID, requestID)
	if err != nil {
		return "", err
	}
	limit, ok := o.cache.MaxConversationLimit(accountID, requestID)
	if !ok {
		limit = current.MaxConversations
	}
	if count >= limit {
		reason := fmt.Sprintf("conversation limit exceeded: %d of %d conversations already opened", count, limit)
		o.failTask(ctx, accountID, requestID, reason)
		return "", fmt.Errorf("orchestrator: task %s: %w", requestID, ErrConversationLimitExceeded)
	}

	person := o.personas.Person(current.UseFakeNames)
	profile := &platform.Profile{
		FirstName: person.FirstName,
		LastName:  person.LastName,
		Email:     person.Email,
		Timezone:  person.Timezone,
	}
	convCtx := map[string]string{}
	if current.Scenario != "" {
		convCtx["scenario"] = current.Scenario
	}
	if current.Persona != "" {
		convCtx["persona"] = current.Persona
	}

	appToken, err := o.gateway.AppToken(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: create conversation: app token: %w", err)
	}
	consumer, err := o.gateway.RegisterConsumer(ctx, accountID, appToken, platform.ConsumerRequest{
		ExternalConsumerID: person.ExternalID,
		Profile:            profile,
		Context:            convCtx,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: create conversation: register consumer: %w", err)
	}
	convID, err := o.gateway.CreateConversation(ctx, accountID, appToken, consumer.Token, platform.ConversationRequest{
		SkillID: current.SkillID,
		Profile: profile,
		Context: convCtx,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: create conversation: %w", err)
	}

	if err := models.Transition("", models.StateActive); err != nil {
		return "", err
	}
	conv := &models.Conversation{
		ID:                 convID,
		AccountID:          accountID,
		RequestID:          requestID,
		DialogID:           convID,
		DialogType:         models.DialogNormal,
		State:              models.StateActive,
		Status:             models.StageOpen,
		Active:             true,
		ConsumerToken:      consumer.Token,
		PlatformConsumerID: consumer.PlatformConsumerID,
		ExternalConsumerID: consumer.ExternalConsumerID,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("orchestrator: save conversation %s: %w", convID, err)
	}
	o.cache.SetConversation(conv)
	opened := o.cache.IncrementTaskConversationCount(accountID, requestID)

	_, err = o.mutateTask(ctx, accountID, requestID,
		func(t *models.Task) {
			t.OpenedConversations = opened
			t.ConversationIDs = append(t.ConversationIDs, convID)
			if t.Status == models.TaskPending {
				t.Status = models.TaskInProgress
			}
		},
		func(t *models.Task) map[string]interface{} {
			return map[string]interface{}{
				"opened_conversations": t.OpenedConversations,
				"conversation_ids":     datatypes.JSONSlice[string](t.ConversationIDs),
				"status":               t.Status,
			}
		})
	if err != nil {
		o.log.Error("conversation opened but task bookkeeping failed",
			logging.Account(accountID), logging.Request(requestID), logging.Conversation(convID), zap.Error(err))
	}

	o.metrics.RecordConversationCreated()
	o.log.Info("conversation created",
		logging.Account(accountID), logging.Request(requestID), logging.Conversation(convID))
	return convID, nil
}

// inflightCount reads the advisory opened-conversation counter, seeding it
// from the store on a cache miss.
func (o *Orchestrator) inflightCount(ctx context.Context, accountID, requestID string) (int, error) {
	if n, ok := o.cache.TaskConversationCount(accountID, requestID); ok {
		return n, nil
	}
	n, err := o.store.CountConversationsByRequest(ctx, accountID, requestID)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: count conversations for %s: %w", requestID, err)
	}
	o.cache.SetTaskConversationCount(accountID, requestID, int(n))
	return int(n), nil
}
