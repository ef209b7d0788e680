package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/carebridge/chatsync/internal/domain"
)

// completionMarker ends the scripted check-in. The client treats any
// assistant message containing it as the end of the conversation.
const completionMarker = "Thank you for completing this chat!"

var symptomOptions = []string{
	"Nausea",
	"Fatigue",
	"Pain",
	"Loss of appetite",
	"Fever",
	"None of these",
}

var feelingOptions = []string{"Great", "Good", "Okay", "Bad", "Terrible"}

// openingPrompt is the first assistant message of every session.
func openingPrompt(chatUUID string) domain.Message {
	return domain.Message{
		ChatUUID: chatUUID,
		Sender:   domain.SenderAssistant,
		Kind:     domain.KindSingleSelect,
		Content:  "Hi! Time for your daily check-in. Did you get chemotherapy today?",
		StructuredData: &domain.StructuredData{
			Options: []string{"Yes", "No", "I had it recently, but didn't record it"},
		},
		CreatedAt: time.Now(),
	}
}

// Responder walks a fixed check-in script. The next prompt is derived from
// the kind of the user message being answered, so the flow stays correct
// even when the client reconnects mid-session.
type Responder struct{}

// Reply returns the scripted assistant message that follows the incoming
// user message. Streamed is true when the reply should be delivered as
// incremental chunks rather than a single frame.
func (re *Responder) Reply(history []domain.Message, incoming domain.Message) (reply domain.Message, streamed bool) {
	reply = domain.Message{
		ChatUUID:  incoming.ChatUUID,
		Sender:    domain.SenderAssistant,
		CreatedAt: time.Now(),
	}

	switch incoming.Kind {
	case domain.KindButtonResponse:
		reply.Kind = domain.KindMultiSelect
		reply.Content = "Thanks for letting me know. Which symptoms have you noticed today? Select all that apply."
		reply.StructuredData = &domain.StructuredData{
			Options:       symptomOptions,
			MaxSelections: len(symptomOptions),
		}
		return reply, false

	case domain.KindMultiSelectResponse:
		reply.Kind = domain.KindFeelingSelect
		reply.Content = "Got it. How are you feeling overall today?"
		reply.StructuredData = &domain.StructuredData{Options: feelingOptions}
		return reply, false

	case domain.KindFeelingResponse:
		reply.Kind = domain.KindText
		reply.Content = fmt.Sprintf(
			"Thanks for sharing that you're feeling %s. Is there anything else about today you'd like your care team to know?",
			strings.ToLower(incoming.Content),
		)
		return reply, true

	default:
		reply.Kind = domain.KindText
		if textTurns(history) >= 2 {
			reply.Content = "I've noted everything for your care team. " + completionMarker
		} else {
			reply.Content = "I've added that to today's notes. Anything else you'd like to mention?"
		}
		return reply, true
	}
}

// textTurns counts prior free-text user messages in the session.
func textTurns(history []domain.Message) int {
	n := 0
	for _, m := range history {
		if m.Sender == domain.SenderUser && m.Kind == domain.KindText {
			n++
		}
	}
	return n
}
