package store

import (
	"context"
	"fmt"

	"github.com/zulandar/convoy/internal/models"
)

// CreateConversation inserts a new conversation record.
func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" || conv.AccountID == "" || conv.RequestID == "" {
		return fmt.Errorf("store: conversation id, account id and request id are required")
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("store: create conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation loads a conversation by account and conversation id.
func (s *Store) GetConversation(ctx context.Context, accountID, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, conversationID).
		First(&conv).Error
	if err != nil {
		return nil, fmt.Errorf("store: get conversation %s: %w", conversationID, notFound(err))
	}
	return &conv, nil
}

// UpdateConversation applies a column map to one conversation.
func (s *Store) UpdateConversation(ctx context.Context, accountID, conversationID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("account_id = ? AND id = ?", accountID, conversationID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("store: update conversation %s: %w", conversationID, result.Error)
	}
	return nil
}

// ListConversationsByRequest returns every conversation owned by a task.
func (s *Store) ListConversationsByRequest(ctx context.Context, accountID, requestID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND request_id = ?", accountID, requestID).
		Order("created_at ASC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list conversations for %s: %w", requestID, err)
	}
	return convs, nil
}

// CountConversationsByRequest returns how many conversations a task has opened.
func (s *Store) CountConversationsByRequest(ctx context.Context, accountID, requestID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("account_id = ? AND request_id = ?", accountID, requestID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count conversations for %s: %w", requestID, err)
	}
	return n, nil
}

// ListDueReplies returns active, open conversations whose consumer reply is
// due at or before nowMillis, earliest first. Conversations of terminal or
// unknown tasks are never due, so they cannot crowd live ones out of a batch.
func (s *Store) ListDueReplies(ctx context.Context, nowMillis int64, limit int) ([]models.Conversation, error) {
	var convs []models.Conversation
	q := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Select("conversations.*").
		Joins("JOIN tasks ON tasks.id = conversations.request_id AND tasks.account_id = conversations.account_id").
		Where("conversations.pending_consumer = ? AND conversations.pending_consumer_respond_time <= ?", true, nowMillis).
		Where("conversations.state = ? AND conversations.status <> ?", models.StateActive, models.StageClose).
		Where("tasks.status NOT IN ?", models.TerminalStatuses).
		Order("conversations.pending_consumer_respond_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("store: list due replies: %w", err)
	}
	return convs, nil
}
