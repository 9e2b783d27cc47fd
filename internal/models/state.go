package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a conversation state change is not
// permitted by the lifecycle table.
var ErrInvalidTransition = errors.New("invalid conversation state transition")

// transitions lists the permitted simulation state changes. Creation (no
// prior state) always lands in StateActive.
var transitions = map[ConversationState][]ConversationState{
	StateActive:    {StatePaused, StateAnalysing},
	StatePaused:    {StateActive, StateAnalysing},
	StateAnalysing: {StateAnalysing, StateClosed},
	StateClosed:    {},
}

// CanTransition reports whether a conversation may move from one state to another.
func CanTransition(from, to ConversationState) bool {
	if from == "" {
		return to == StateActive
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state change, returning a wrapped
// ErrInvalidTransition when it is not allowed.
func Transition(from, to ConversationState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ConversationConcluded is emitted by the orchestrator once a conversation's
// closure has been booked against its task. Duplicate is set when the
// conversation had already been counted; Err is set when bookkeeping failed.
type ConversationConcluded struct {
	AccountID              string
	RequestID              string
	ConversationID         string
	CompletedConversations int
	Duplicate              bool
	Err                    error
}
