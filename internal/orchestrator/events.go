package orchestrator

import "encoding/json"

// Originator roles on the platform. Only agent roles drive a conversation.
const (
	RoleAssignedAgent = "ASSIGNED_AGENT"
	RoleAgent         = "AGENT"
	RoleManager       = "MANAGER"
	RoleController    = "CONTROLLER"
	RoleConsumer      = "CONSUMER"
)

// AudienceAll marks a message visible to the consumer.
const AudienceAll = "ALL"

// Event types carried in a content change.
const (
	EventContent     = "ContentEvent"
	EventRichContent = "RichContentEvent"
)

// agentRoles are the originator roles treated as a human or bot agent turn.
var agentRoles = map[string]bool{
	RoleAssignedAgent: true,
	RoleAgent:         true,
	RoleManager:       true,
}

// ContentEvent is the agent-message webhook payload.
type ContentEvent struct {
	Body ContentBody `json:"body"`
}

// ContentBody holds a batch of message changes.
type ContentBody struct {
	Changes []ContentChange `json:"changes"`
}

// ContentChange is one message published into a conversation.
type ContentChange struct {
	ConversationID     string             `json:"conversationId"`
	DialogID           string             `json:"dialogId,omitempty"`
	DialogType         string             `json:"dialogType,omitempty"`
	Sequence           int                `json:"sequence"`
	ServerTimestamp    int64              `json:"serverTimestamp"`
	OriginatorID       string             `json:"originatorId,omitempty"`
	OriginatorMetadata OriginatorMetadata `json:"originatorMetadata"`
	MessageAudience    string             `json:"messageAudience"`
	Role               string             `json:"role,omitempty"`
	Event              MessageEvent       `json:"event"`
}

// OriginatorMetadata identifies who published a change.
type OriginatorMetadata struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// MessageEvent is the message itself. Plain events carry Message; rich
// events carry Content.
type MessageEvent struct {
	Type        string          `json:"type"`
	ContentType string          `json:"contentType,omitempty"`
	Message     string          `json:"message,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// empty reports whether the event carries nothing to render.
func (e MessageEvent) empty() bool {
	if e.Type == EventRichContent {
		return len(e.Content) == 0 || string(e.Content) == "null"
	}
	return e.Message == ""
}

// lastAgentChange returns the last change published by an agent role.
func lastAgentChange(changes []ContentChange) (ContentChange, bool) {
	for i := len(changes) - 1; i >= 0; i-- {
		if agentRoles[changes[i].OriginatorMetadata.Role] {
			return changes[i], true
		}
	}
	return ContentChange{}, false
}

// StateChangeEvent is the conversation-state webhook payload.
type StateChangeEvent struct {
	Body StateChangeBody `json:"body"`
}

// StateChangeBody holds a batch of conversation state changes.
type StateChangeBody struct {
	Changes []StateChange `json:"changes"`
}

// StateChange is one conversation's new remote state.
type StateChange struct {
	Type   string      `json:"type,omitempty"`
	Result StateResult `json:"result"`
}

// StateResult carries the conversation id and its details.
type StateResult struct {
	ConvID              string              `json:"convId"`
	ConversationDetails ConversationDetails `json:"conversationDetails"`
}

// ConversationDetails is the remote stage and dialog list.
type ConversationDetails struct {
	Stage   string   `json:"stage"`
	Dialogs []Dialog `json:"dialogs"`
}

// Dialog is one sub-session of a conversation.
type Dialog struct {
	DialogID   string `json:"dialogId"`
	State      string `json:"state"`
	DialogType string `json:"dialogType"`
}
