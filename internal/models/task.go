package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// TaskStatus is the lifecycle status of a simulation task.
type TaskStatus string

const (
	TaskPending       TaskStatus = "PENDING"
	TaskInProgress    TaskStatus = "IN_PROGRESS"
	TaskAgentAnalysis TaskStatus = "AGENT_ANALYSIS"
	TaskCompleted     TaskStatus = "COMPLETED"
	TaskCancelled     TaskStatus = "CANCELLED"
	TaskError         TaskStatus = "ERROR"
)

// TerminalStatuses lists the statuses for which Terminal reports true.
var TerminalStatuses = []TaskStatus{TaskCompleted, TaskCancelled, TaskError}

// Terminal reports whether no further conversations may be spawned or
// processed for a task in this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskError:
		return true
	}
	return false
}

// DelayRange is the consumer reply delay window, in seconds. The zero value
// means "not configured".
type DelayRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Valid reports whether the range can be sampled.
func (r DelayRange) Valid() bool {
	if r.Min == 0 && r.Max == 0 {
		return false
	}
	return r.Min >= 0 && r.Max >= r.Min
}

// Task is one bounded simulation run of synthetic conversations for an account.
type Task struct {
	ID        string `gorm:"primaryKey;size:64" json:"requestId"`
	AccountID string `gorm:"primaryKey;size:64" json:"accountId"`

	MaxConversations          int        `gorm:"not null" json:"maxConversations"`
	ConcurrentConversations   int        `gorm:"not null" json:"concurrentConversations"`
	UseDelays                 bool       `json:"useDelays"`
	UseFakeNames              bool       `json:"useFakeNames"`
	MaxTurns                  int        `json:"maxTurns"`
	ConsumerMessageDelayRange DelayRange `gorm:"embedded;embeddedPrefix:delay_" json:"consumerMessageDelayRange"`
	SkillID                   string     `gorm:"size:64" json:"skillId,omitempty"`
	Scenario                  string     `gorm:"type:text" json:"scenario,omitempty"`
	Persona                   string     `gorm:"type:text" json:"persona,omitempty"`

	Status                 TaskStatus                  `gorm:"size:16;index" json:"status"`
	CompletedConversations int                         `json:"completedConversations"`
	CompletedConvIDs       datatypes.JSONSlice[string] `json:"completedConvIds"`
	ErrorReason            string                      `gorm:"type:text" json:"errorReason,omitempty"`

	// Advisory bookkeeping, cleared when the task concludes.
	OpenedConversations int                         `json:"openedConversations"`
	ConversationIDs     datatypes.JSONSlice[string] `json:"conversationIds"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ConcludedAt *time.Time `json:"concludedAt,omitempty"`
}

// HasCompleted reports whether conversationID was already counted as completed.
func (t *Task) HasCompleted(conversationID string) bool {
	return slices.Contains(t.CompletedConvIDs, conversationID)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.CompletedConvIDs = slices.Clone(t.CompletedConvIDs)
	c.ConversationIDs = slices.Clone(t.ConversationIDs)
	if t.ConcludedAt != nil {
		at := *t.ConcludedAt
		c.ConcludedAt = &at
	}
	return &c
}
