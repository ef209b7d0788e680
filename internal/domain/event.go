package domain

import (
	"encoding/json"
	"fmt"
)

// Inbound frame type tags used by the chat backend.
const (
	frameConnectionEstablished = "connection_established"
	frameMessageChunk          = "message_chunk"
	frameMessageEnd            = "message_end"
)

// EventKind classifies an inbound transport frame.
type EventKind int

const (
	// EventUnknown is a parseable frame of no recognized shape. The
	// reconciler ignores these.
	EventUnknown EventKind = iota
	// EventConnectionEstablished is the backend's connection acknowledgement.
	// The connection manager consumes it and never forwards it.
	EventConnectionEstablished
	// EventMessageChunk carries a fragment of a streamed assistant message.
	EventMessageChunk
	// EventMessageEnd marks the end of a streamed assistant message.
	EventMessageEnd
	// EventMessageComplete carries a fully-populated authoritative message.
	EventMessageComplete
)

// Event is one inbound frame, decoded into a tagged union over the known
// frame shapes. Only the fields for the tagged kind are populated.
type Event struct {
	Kind EventKind

	// ChatState is the raw state blob from a connection acknowledgement.
	ChatState json.RawMessage

	// MessageID and Fragment are set for EventMessageChunk.
	MessageID int64
	Fragment  string

	// Message is set for EventMessageComplete.
	Message *Message
}

// ParseEvent decodes a raw transport frame. A frame that is not valid JSON
// returns an error; valid JSON of an unrecognized shape yields EventUnknown.
// A bare message object only classifies as EventMessageComplete when it is
// fully populated (concrete id, sender, and message type) so that partial
// objects cannot masquerade as authoritative messages.
func ParseEvent(data []byte) (Event, error) {
	var env struct {
		Type      string          `json:"type"`
		ChatState json.RawMessage `json:"chat_state"`
		MessageID int64           `json:"message_id"`
		Content   string          `json:"content"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case frameConnectionEstablished:
		return Event{Kind: EventConnectionEstablished, ChatState: env.ChatState}, nil
	case frameMessageChunk:
		return Event{Kind: EventMessageChunk, MessageID: env.MessageID, Fragment: env.Content}, nil
	case frameMessageEnd:
		return Event{Kind: EventMessageEnd}, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{Kind: EventUnknown}, nil
	}
	if !msg.IsComplete() {
		return Event{Kind: EventUnknown}, nil
	}
	return Event{Kind: EventMessageComplete, Message: &msg}, nil
}

// UserMessage is the outbound envelope wrapping user input for the transport.
type UserMessage struct {
	Type    string      `json:"type"`
	Kind    MessageKind `json:"message_type"`
	Content string      `json:"content"`
}

// NewUserMessage wraps content and a message-kind tag into the outbound
// envelope the backend expects.
func NewUserMessage(content string, kind MessageKind) UserMessage {
	return UserMessage{Type: "user_message", Kind: kind, Content: content}
}
