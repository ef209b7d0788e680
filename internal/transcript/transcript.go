// Package transcript folds the inbound event stream and local user actions
// into one ordered, display-ready transcript.
//
// Transcript order is arrival order: the reconciler never reorders frames
// that the backend delivered out of order.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/carebridge/chatsync/internal/domain"
)

// Transcript reconciles server events with optimistic local entries for a
// single chat session.
type Transcript struct {
	mu        sync.Mutex
	chatUUID  string
	entries   []domain.Message
	composing bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates a transcript seeded with the session's existing messages.
func New(chatUUID string, seed []domain.Message) *Transcript {
	entries := make([]domain.Message, len(seed))
	copy(entries, seed)
	return &Transcript{
		chatUUID: chatUUID,
		entries:  entries,
		now:      time.Now,
	}
}

// ChatUUID returns the session identifier the transcript is bound to.
func (t *Transcript) ChatUUID() string {
	return t.chatUUID
}

// Messages returns a copy of the ordered transcript.
func (t *Transcript) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of transcript entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Composing reports whether an assistant response is in flight.
func (t *Transcript) Composing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.composing
}

// SetComposing sets the assistant-is-composing indicator. The caller flips
// it on after transmitting user input; inbound events clear it.
func (t *Transcript) SetComposing(v bool) {
	t.mu.Lock()
	t.composing = v
	t.mu.Unlock()
}

// Apply folds one inbound event into the transcript.
//
// A chunk appends its fragment to the entry with the same identifier, or
// seeds a new assistant text entry. A complete authoritative message evicts
// any optimistic placeholder and any prior entry with the same identifier
// before being appended; this is how streamed-then-finalized assistant
// messages and confirmed user echoes replace their provisional versions.
// Events of any other shape leave the transcript unchanged.
func (t *Transcript) Apply(ev domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case domain.EventMessageChunk:
		t.composing = false
		for i := range t.entries {
			if t.entries[i].ID == ev.MessageID {
				t.entries[i].Content += ev.Fragment
				return
			}
		}
		t.entries = append(t.entries, domain.Message{
			ID:        ev.MessageID,
			ChatUUID:  t.chatUUID,
			Sender:    domain.SenderAssistant,
			Kind:      domain.KindText,
			Content:   ev.Fragment,
			CreatedAt: t.now(),
		})

	case domain.EventMessageEnd:
		t.composing = false

	case domain.EventMessageComplete:
		t.composing = false
		msg := *ev.Message
		kept := t.entries[:0]
		for _, e := range t.entries {
			if e.ID == domain.PendingID || e.ID == msg.ID {
				continue
			}
			kept = append(kept, e)
		}
		t.entries = append(kept, msg)

	default:
		// Unknown shapes are ignored.
	}
}

// SubmitText appends an optimistic free-text entry and returns it.
func (t *Transcript) SubmitText(text string) domain.Message {
	return t.appendOptimistic(text, domain.KindText)
}

// SelectButton appends an optimistic single-option answer and returns it.
func (t *Transcript) SelectButton(option string) domain.Message {
	return t.appendOptimistic(option, domain.KindButtonResponse)
}

// SelectFeeling appends an optimistic feeling answer and returns it.
func (t *Transcript) SelectFeeling(feeling string) domain.Message {
	return t.appendOptimistic(feeling, domain.KindFeelingResponse)
}

// SubmitMultiSelect records the raw selection on the latest assistant
// entry's structured data, then appends an optimistic answer whose content
// joins the selected option labels. Keeping the selection on the prompt
// lets it render as already answered instead of disappearing.
func (t *Transcript) SubmitMultiSelect(selections []string) domain.Message {
	t.mu.Lock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Sender != domain.SenderAssistant {
			continue
		}
		sd := domain.StructuredData{}
		if t.entries[i].StructuredData != nil {
			sd = *t.entries[i].StructuredData
		}
		sd.SelectedOptions = append([]string(nil), selections...)
		t.entries[i].StructuredData = &sd
		break
	}
	t.mu.Unlock()

	return t.appendOptimistic(strings.Join(selections, ", "), domain.KindMultiSelectResponse)
}

func (t *Transcript) appendOptimistic(content string, kind domain.MessageKind) domain.Message {
	msg := domain.Message{
		ID:        domain.PendingID,
		ChatUUID:  t.chatUUID,
		Sender:    domain.SenderUser,
		Kind:      kind,
		Content:   content,
		CreatedAt: t.now(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, msg)
	t.mu.Unlock()
	return msg
}

// ShowTextInput reports whether the free-text affordance should be visible:
// only for an empty transcript, or when the latest entry is assistant text
// and no response is in flight. This blocks double submission while a reply
// or an interactive prompt is pending.
func (t *Transcript) ShowTextInput() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.composing {
		return false
	}
	if len(t.entries) == 0 {
		return true
	}
	last := t.entries[len(t.entries)-1]
	if last.Sender == domain.SenderUser {
		return false
	}
	return last.Kind == domain.KindText
}

// ShowInteractive reports whether a message should render its interactive
// controls. Only the most recent assistant entry qualifies; earlier entries
// render as inert history.
func (t *Transcript) ShowInteractive(msg domain.Message) bool {
	if msg.Sender != domain.SenderAssistant {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Sender == domain.SenderAssistant {
			return t.entries[i].ID == msg.ID
		}
	}
	return false
}
