// Package domain contains core domain types for the chatsync client.
package domain

import (
	"time"
)

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageKind is the closed set of message type tags used on the wire.
type MessageKind string

const (
	// KindText is free-form text from either side.
	KindText MessageKind = "text"
	// KindButtonResponse is a user answer to a single-option prompt.
	KindButtonResponse MessageKind = "button_response"
	// KindMultiSelectResponse is a user answer to a multi-option prompt.
	KindMultiSelectResponse MessageKind = "multi_select_response"
	// KindFeelingResponse is a user answer to a feeling prompt.
	KindFeelingResponse MessageKind = "feeling_response"
	// KindSingleSelect is an assistant prompt offering one-of-N options.
	KindSingleSelect MessageKind = "single-select"
	// KindMultiSelect is an assistant prompt offering many-of-N options.
	KindMultiSelect MessageKind = "multi-select"
	// KindFeelingSelect is an assistant prompt asking how the user feels.
	KindFeelingSelect MessageKind = "feeling-select"
)

// IsInteractive reports whether the kind expects an interactive response
// rather than free text.
func (k MessageKind) IsInteractive() bool {
	switch k {
	case KindSingleSelect, KindMultiSelect, KindFeelingSelect:
		return true
	default:
		return false
	}
}

// PendingID marks an optimistic local entry that has not been confirmed
// by the backend yet.
const PendingID int64 = -1

// StructuredData carries interactive-control options and any recorded
// selection for an assistant prompt.
type StructuredData struct {
	Options         []string `json:"options,omitempty"`
	MaxSelections   int      `json:"max_selections,omitempty"`
	SelectedOptions []string `json:"selected_options,omitempty"`
}

// Message is one transcript entry. Server-confirmed messages carry a
// concrete ID; optimistic local entries carry PendingID until the
// authoritative echo arrives.
type Message struct {
	ID             int64           `json:"id"`
	ChatUUID       string          `json:"chat_uuid"`
	Sender         Sender          `json:"sender"`
	Kind           MessageKind     `json:"message_type"`
	Content        string          `json:"content"`
	StructuredData *StructuredData `json:"structured_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsPending reports whether the message is an unconfirmed optimistic entry.
func (m *Message) IsPending() bool {
	return m.ID == PendingID
}

// IsComplete reports whether the message is a fully-populated authoritative
// object: a concrete identifier alone is not enough, sender and kind must be
// present too.
func (m *Message) IsComplete() bool {
	return m.ID != 0 && m.ID != PendingID && m.Sender != "" && m.Kind != ""
}
