// Package analysis is the boundary to the transcript scoring service. It
// receives concluded tasks and conversations, and generates the synthetic
// consumer's next message.
package analysis

import (
	"context"

	"github.com/zulandar/convoy/internal/models"
)

// Handoff receives finished work for scoring.
type Handoff interface {
	ConcludeTask(ctx context.Context, task *models.Task) error
	ConcludeConversation(ctx context.Context, accountID, requestID, conversationID string) error
}

// Responder produces the consumer's reply to the buffered agent messages.
type Responder interface {
	NextConsumerMessage(ctx context.Context, task *models.Task, conv *models.Conversation) (string, error)
}

// Scripted is a Responder that cycles through fixed lines. It needs no
// scoring service and is used when none is configured.
type Scripted struct {
	Lines []string
}

var defaultLines = []string{
	"Hi, I need some help with my order.",
	"Thanks. Can you tell me a bit more?",
	"I see. What would you recommend?",
	"Okay, that makes sense.",
	"Great, thanks for your help!",
}

// NextConsumerMessage picks the line matching the number of replies already sent.
func (s Scripted) NextConsumerMessage(_ context.Context, _ *models.Task, conv *models.Conversation) (string, error) {
	lines := s.Lines
	if len(lines) == 0 {
		lines = defaultLines
	}
	return lines[conv.ConsumerMessagesSentCount%len(lines)], nil
}

// Nop is a Handoff that accepts everything and scores nothing.
type Nop struct{}

func (Nop) ConcludeTask(context.Context, *models.Task) error { return nil }

func (Nop) ConcludeConversation(context.Context, string, string, string) error { return nil }
