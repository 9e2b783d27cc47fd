// Package store persists tasks and conversations in the durable state store.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/zulandar/convoy/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a task or conversation does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// maxCASAttempts bounds the compare-and-swap retry loop.
const maxCASAttempts = 8

// Store is the gorm-backed source of truth for tasks and conversations.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm connection.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateTask inserts a new task record.
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" || task.AccountID == "" {
		return fmt.Errorf("store: task id and account id are required")
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("store: create task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask loads a task by account and request id.
func (s *Store) GetTask(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, requestID).
		First(&task).Error
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", requestID, notFound(err))
	}
	return &task, nil
}

// UpdateTask applies a column map to one task.
func (s *Store) UpdateTask(ctx context.Context, accountID, requestID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("account_id = ? AND id = ?", accountID, requestID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("store: update task %s: %w", requestID, result.Error)
	}
	return nil
}

// ListTasksByStatus returns every task in the given status, oldest first.
func (s *Store) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("store: list tasks %s: %w", status, err)
	}
	return tasks, nil
}

// AddCompletedConversation books conversationID against the task at most
// once. It appends the id and increments the completed counter in a single
// conditional UPDATE, retrying when another writer got there first. added is
// false when the id was already present.
func (s *Store) AddCompletedConversation(ctx context.Context, accountID, requestID, conversationID string) (completed int, added bool, err error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		task, err := s.GetTask(ctx, accountID, requestID)
		if err != nil {
			return 0, false, err
		}
		if task.HasCompleted(conversationID) {
			return task.CompletedConversations, false, nil
		}

		ids := append(slices.Clone(task.CompletedConvIDs), conversationID)
		result := s.db.WithContext(ctx).Model(&models.Task{}).
			Where("account_id = ? AND id = ? AND completed_conversations = ?",
				accountID, requestID, task.CompletedConversations).
			Updates(map[string]interface{}{
				"completed_conv_ids":      datatypes.JSONSlice[string](ids),
				"completed_conversations": len(ids),
			})
		if result.Error != nil {
			return 0, false, fmt.Errorf("store: complete conversation %s: %w", conversationID, result.Error)
		}
		if result.RowsAffected == 1 {
			return len(ids), true, nil
		}
	}
	return 0, false, fmt.Errorf("store: complete conversation %s: %w", conversationID, ErrConflict)
}
