package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// ConversationState is the internal simulation lifecycle of a conversation.
type ConversationState string

const (
	StateActive    ConversationState = "ACTIVE"
	StatePaused    ConversationState = "PAUSED"
	StateAnalysing ConversationState = "ANALYSING"
	StateClosed    ConversationState = "CLOSED"
)

// Remote conversation stages as reported by the platform.
const (
	StageOpen  = "OPEN"
	StageClose = "CLOSE"
)

// Remote dialog types.
const (
	DialogNormal     = "NORMAL"
	DialogPostSurvey = "POST_SURVEY"
)

// Conversation is one synthetic customer session on the remote platform.
type Conversation struct {
	ID         string `gorm:"primaryKey;size:64" json:"id"`
	AccountID  string `gorm:"primaryKey;size:64" json:"accountId"`
	RequestID  string `gorm:"size:64;not null;index" json:"requestId"`
	DialogID   string `gorm:"size:64" json:"dialogId"`
	DialogType string `gorm:"size:16" json:"dialogType"`

	State  ConversationState `gorm:"size:16;index" json:"state"`
	Status string            `gorm:"size:8;index" json:"status"`
	Active bool              `json:"active"`

	AgentTurns             int                         `json:"agentTurns"`
	AgentMessagesSentCount int                         `json:"agentMessagesSentCount"`
	AgentMessages          datatypes.JSONSlice[string] `json:"agentMessages"`
	LastAgentMessageTime   *time.Time                  `json:"lastAgentMessageTime,omitempty"`

	PendingConsumer            bool  `gorm:"index" json:"pendingConsumer"`
	PendingConsumerRespondTime int64 `gorm:"index" json:"pendingConsumerRespondTime"`
	Queued                     bool  `json:"queued"`

	ConsumerMessagesSentCount int    `json:"consumerMessagesSentCount"`
	ConsumerToken             string `gorm:"type:text" json:"-"`
	PlatformConsumerID        string `gorm:"size:128" json:"platformConsumerId,omitempty"`
	ExternalConsumerID        string `gorm:"size:64" json:"externalConsumerId,omitempty"`
	CloseCause                string `gorm:"size:64" json:"closeCause,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// IsPostSurvey reports whether the current dialog is a post-conversation survey.
func (c *Conversation) IsPostSurvey() bool {
	return c.DialogType == DialogPostSurvey
}

// IsOpen reports whether the remote platform considers the conversation open.
func (c *Conversation) IsOpen() bool {
	return c.Status == StageOpen
}

// ReplyDue reports whether a consumer reply is owed and its due time has passed.
func (c *Conversation) ReplyDue(nowMillis int64) bool {
	return c.PendingConsumer && c.PendingConsumerRespondTime <= nowMillis
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.AgentMessages = slices.Clone(c.AgentMessages)
	if c.LastAgentMessageTime != nil {
		t := *c.LastAgentMessageTime
		cp.LastAgentMessageTime = &t
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
