// Package telegraph posts task lifecycle notifications to chat platforms
// (Slack, Discord).
package telegraph

import "context"

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter owns the connection to a single chat platform and posts to its
// configured channel.
type Adapter interface {
	// Name identifies the platform in logs, e.g. "slack".
	Name() string

	// Connect establishes a connection to the chat platform and verifies
	// the credentials.
	Connect(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel; empty uses the adapter default
	Text      string           // message text (platform-native formatting)
	Events    []FormattedEvent // structured event attachments
}

// FormattedEvent represents a convoy event formatted for display in chat.
type FormattedEvent struct {
	Title    string  // event headline (e.g. "Task req-42 concluded")
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint (e.g. "#36a64f" for success)
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}
