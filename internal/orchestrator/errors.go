package orchestrator

import "errors"

var (
	// ErrConversationLimitExceeded is fatal for the owning task: it is
	// recorded on the task, which moves to ERROR.
	ErrConversationLimitExceeded = errors.New("conversation limit exceeded")
	// ErrMissingIdentifier is returned when a create or close request lacks an
	// account id, request id, conversation id, consumer token or app token.
	ErrMissingIdentifier = errors.New("missing required identifier")
	// ErrEmptyMessage is returned when asked to publish an empty reply.
	ErrEmptyMessage = errors.New("empty message")
	// ErrTaskTerminal is returned when asked to spawn work for a finished task.
	ErrTaskTerminal = errors.New("task is in a terminal state")
)
