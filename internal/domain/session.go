package domain

import (
	"time"
)

// ConversationState is the lifecycle state of one conversation day.
type ConversationState string

const (
	StateActive    ConversationState = "ACTIVE"
	StateCompleted ConversationState = "COMPLETED"
	StateEmergency ConversationState = "EMERGENCY"
)

// ChatSession binds a transcript to one conversation day. It is created by
// the session loader on entry or on an explicit new-conversation action and
// discarded, not persisted, when the client detaches.
type ChatSession struct {
	ChatUUID  string            `json:"chat_uuid"`
	State     ConversationState `json:"conversation_state,omitempty"`
	Messages  []Message         `json:"messages"`
	CreatedAt time.Time         `json:"created_at,omitzero"`
}

// Ended reports whether the conversation no longer accepts user input.
func (s *ChatSession) Ended() bool {
	return s.State == StateCompleted || s.State == StateEmergency
}
