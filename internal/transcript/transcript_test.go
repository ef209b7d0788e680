package transcript

import (
	"testing"
	"time"

	"github.com/carebridge/chatsync/internal/domain"
)

func chunk(id int64, fragment string) domain.Event {
	return domain.Event{Kind: domain.EventMessageChunk, MessageID: id, Fragment: fragment}
}

func complete(msg domain.Message) domain.Event {
	return domain.Event{Kind: domain.EventMessageComplete, Message: &msg}
}

func TestApply_ChunksConcatenateInDeliveryOrder(t *testing.T) {
	tr := New("abc", nil)

	tr.Apply(chunk(42, "Hel"))
	tr.Apply(chunk(42, "lo, "))
	tr.Apply(chunk(42, "world"))

	msgs := tr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(msgs))
	}
	if msgs[0].Content != "Hello, world" {
		t.Errorf("Expected concatenated content, got %q", msgs[0].Content)
	}
	if msgs[0].Sender != domain.SenderAssistant || msgs[0].Kind != domain.KindText {
		t.Errorf("Chunk-seeded entry should be assistant text, got %+v", msgs[0])
	}
}

func TestApply_ChunkClearsComposing(t *testing.T) {
	tr := New("abc", nil)
	tr.SetComposing(true)

	tr.Apply(chunk(1, "hi"))

	if tr.Composing() {
		t.Error("Expected composing cleared after chunk")
	}
}

func TestApply_MessageEndClearsComposingOnly(t *testing.T) {
	tr := New("abc", nil)
	tr.Apply(chunk(1, "hi"))
	tr.SetComposing(true)

	tr.Apply(domain.Event{Kind: domain.EventMessageEnd})

	if tr.Composing() {
		t.Error("Expected composing cleared after message_end")
	}
	if tr.Len() != 1 {
		t.Errorf("message_end must not mutate the transcript, got %d entries", tr.Len())
	}
}

func TestApply_CompleteEvictsPendingAndDuplicate(t *testing.T) {
	tr := New("abc", nil)
	tr.SubmitText("hello")
	tr.Apply(chunk(42, "partial"))

	tr.Apply(complete(domain.Message{
		ID: 42, ChatUUID: "abc", Sender: domain.SenderAssistant,
		Kind: domain.KindText, Content: "partial answer", CreatedAt: time.Now(),
	}))

	msgs := tr.Messages()
	for _, m := range msgs {
		if m.ID == domain.PendingID {
			t.Error("Transcript still contains a pending sentinel entry")
		}
	}
	count := 0
	for _, m := range msgs {
		if m.ID == 42 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one entry with id 42, got %d", count)
	}
	if got := msgs[len(msgs)-1].Content; got != "partial answer" {
		t.Errorf("Expected authoritative content, got %q", got)
	}
}

func TestApply_UnknownShapeIgnored(t *testing.T) {
	tr := New("abc", nil)
	tr.Apply(chunk(1, "hi"))

	tr.Apply(domain.Event{Kind: domain.EventUnknown})

	if tr.Len() != 1 {
		t.Errorf("Unknown event must not mutate the transcript, got %d entries", tr.Len())
	}
}

func TestScenario_OptimisticSubmitThenAuthoritativeReply(t *testing.T) {
	// Session loads with {chat_uuid: "abc", messages: []}.
	tr := New("abc", nil)

	// User submits "hello"; caller marks composing after transmitting.
	msg := tr.SubmitText("hello")
	tr.SetComposing(true)

	if msg.ID != domain.PendingID || msg.Sender != domain.SenderUser || msg.Content != "hello" {
		t.Fatalf("Unexpected optimistic entry: %+v", msg)
	}
	if got := tr.Messages(); len(got) != 1 || got[0].ID != domain.PendingID {
		t.Fatalf("Expected transcript [{id:-1 hello}], got %+v", got)
	}
	if !tr.Composing() {
		t.Fatal("Expected composing true after submit")
	}

	// Transport delivers a complete assistant message.
	tr.Apply(complete(domain.Message{
		ID: 42, ChatUUID: "abc", Sender: domain.SenderAssistant,
		Kind: domain.KindText, Content: "hi",
	}))

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(msgs))
	}
	if msgs[0].ID != domain.PendingID || msgs[1].ID != 42 {
		t.Errorf("Unexpected transcript order: %+v", msgs)
	}
	if tr.Composing() {
		t.Error("Expected composing false after complete message")
	}
}

func TestSubmitMultiSelect_AttachesSelectionToPrompt(t *testing.T) {
	tr := New("abc", []domain.Message{{
		ID: 5, ChatUUID: "abc", Sender: domain.SenderAssistant,
		Kind: domain.KindMultiSelect, Content: "Pick symptoms",
		StructuredData: &domain.StructuredData{Options: []string{"A", "B", "C"}},
	}})

	msg := tr.SubmitMultiSelect([]string{"A", "B"})

	if msg.Content != "A, B" {
		t.Errorf("Expected joined content %q, got %q", "A, B", msg.Content)
	}
	if msg.Kind != domain.KindMultiSelectResponse {
		t.Errorf("Expected multi_select_response kind, got %q", msg.Kind)
	}

	msgs := tr.Messages()
	prompt := msgs[0]
	if prompt.StructuredData == nil {
		t.Fatal("Expected structured data on the prompt")
	}
	if got := prompt.StructuredData.SelectedOptions; len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("Expected selected_options [A B], got %v", got)
	}
	if got := prompt.StructuredData.Options; len(got) != 3 {
		t.Errorf("Existing options must be preserved, got %v", got)
	}
}

func TestSelectFeeling(t *testing.T) {
	tr := New("abc", nil)

	msg := tr.SelectFeeling("Good")

	if msg.Kind != domain.KindFeelingResponse || msg.Content != "Good" {
		t.Errorf("Unexpected feeling entry: %+v", msg)
	}
}

func TestShowInteractive_OnlyLatestAssistantEntry(t *testing.T) {
	first := domain.Message{ID: 1, Sender: domain.SenderAssistant, Kind: domain.KindSingleSelect}
	second := domain.Message{ID: 3, Sender: domain.SenderAssistant, Kind: domain.KindMultiSelect}
	user := domain.Message{ID: 2, Sender: domain.SenderUser, Kind: domain.KindButtonResponse}
	tr := New("abc", []domain.Message{first, user, second})

	if tr.ShowInteractive(first) {
		t.Error("Earlier assistant entry must render inert")
	}
	if !tr.ShowInteractive(second) {
		t.Error("Latest assistant entry must render its controls")
	}
	if tr.ShowInteractive(user) {
		t.Error("User entries never render interactive controls")
	}
}

func TestShowTextInput(t *testing.T) {
	assistantText := domain.Message{ID: 1, Sender: domain.SenderAssistant, Kind: domain.KindText}
	assistantPrompt := domain.Message{ID: 2, Sender: domain.SenderAssistant, Kind: domain.KindSingleSelect}
	userMsg := domain.Message{ID: 3, Sender: domain.SenderUser, Kind: domain.KindText}

	tests := []struct {
		name      string
		seed      []domain.Message
		composing bool
		want      bool
	}{
		{"empty transcript", nil, false, true},
		{"assistant text last", []domain.Message{assistantText}, false, true},
		{"assistant prompt last", []domain.Message{assistantPrompt}, false, false},
		{"user message last", []domain.Message{assistantText, userMsg}, false, false},
		{"composing", []domain.Message{assistantText}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("abc", tt.seed)
			tr.SetComposing(tt.composing)
			if got := tr.ShowTextInput(); got != tt.want {
				t.Errorf("ShowTextInput() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShowTextInput_FalseWheneverComposing(t *testing.T) {
	// Composing dominates every transcript state.
	seeds := [][]domain.Message{
		nil,
		{{ID: 1, Sender: domain.SenderAssistant, Kind: domain.KindText}},
		{{ID: 1, Sender: domain.SenderUser, Kind: domain.KindText}},
	}
	for _, seed := range seeds {
		tr := New("abc", seed)
		tr.SetComposing(true)
		if tr.ShowTextInput() {
			t.Errorf("ShowTextInput must be false while composing (seed %v)", seed)
		}
	}
}
