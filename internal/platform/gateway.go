// Package platform talks to the remote conversational-commerce platform:
// service domain resolution, application tokens, consumer registration and
// the asynchronous messaging API.
package platform

import (
	"context"
	"fmt"
)

// Service names understood by the domain resolver.
const (
	ServiceSentinel  = "sentinel"
	ServiceIDP       = "idp"
	ServiceMessaging = "asyncMessagingEnt"
)

// Gateway is every outbound call the orchestrator makes to the platform.
type Gateway interface {
	// ResolveDomain returns the host serving service for the account, or ""
	// when the account has no such service.
	ResolveDomain(ctx context.Context, accountID, service string) (string, error)
	// AppToken returns a bearer token for the application, cached until expiry.
	AppToken(ctx context.Context, accountID string) (string, error)
	RegisterConsumer(ctx context.Context, accountID, appToken string, req ConsumerRequest) (*Consumer, error)
	CreateConversation(ctx context.Context, accountID, appToken, consumerToken string, req ConversationRequest) (string, error)
	PublishMessage(ctx context.Context, accountID, appToken, consumerToken, conversationID, dialogID, text string) error
	// CloseConversation closes the whole conversation when dialogID is empty,
	// otherwise only that dialog, tagged with cause.
	CloseConversation(ctx context.Context, accountID, appToken, consumerToken, conversationID, dialogID, cause string) error
}

// Profile is the synthetic person attached to a consumer.
type Profile struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// ConsumerRequest registers a consumer identity.
type ConsumerRequest struct {
	ExternalConsumerID string
	Profile            *Profile
	// Context is forwarded as structured engagement attributes, e.g. the
	// task's scenario and persona.
	Context map[string]string
}

// Consumer is a registered consumer identity.
type Consumer struct {
	Token              string // consumer JWS
	PlatformConsumerID string
	ExternalConsumerID string
}

// ConversationRequest opens a conversation routed to a skill.
type ConversationRequest struct {
	SkillID string
	Profile *Profile
	Context map[string]string
}

// StatusError is returned when the platform answers with a non-2xx status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform: %s: status %d: %s", e.Op, e.Code, e.Body)
}
