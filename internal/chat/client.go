// Package chat coordinates the session loader, the connection manager, and
// the transcript reconciler into one client: load today's snapshot, attach
// the transport keyed to its session identifier, fold inbound events into
// the transcript, and relay optimistic user actions.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/carebridge/chatsync/internal/domain"
	"github.com/carebridge/chatsync/internal/transcript"
)

// completionMarker appears in the final summary message when the backend
// considers the conversation finished.
const completionMarker = "Thank you for completing this chat!"

// chemoPromptMarker identifies the chemotherapy check question, whose "Yes"
// answer also records today's chemo date.
const chemoPromptMarker = "did you get chemotherapy"

// SessionAPI is the REST surface the client needs from the session loader.
type SessionAPI interface {
	GetTodaySession(ctx context.Context) (*domain.ChatSession, error)
	StartNewSession(ctx context.Context) (*domain.ChatSession, error)
	LogChemoDate(ctx context.Context, date time.Time) error
}

// Transport is the realtime surface the client needs from the connection
// manager.
type Transport interface {
	Connect(ctx context.Context, chatUUID string)
	Send(ctx context.Context, content string, kind domain.MessageKind) error
	Events() <-chan domain.Event
	Close()
}

// Client owns one active chat session at a time.
type Client struct {
	api       SessionAPI
	transport Transport
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sess     *domain.ChatSession
	tr       *transcript.Transcript
	onUpdate func()
}

// New creates a chat client. Call Start to load a session, then Run to
// consume transport events.
func New(api SessionAPI, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:       api,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// SetUpdateFunc registers a callback invoked after every transcript or
// session mutation, for re-rendering.
func (c *Client) SetUpdateFunc(fn func()) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Start loads today's session and attaches the transport to it.
func (c *Client) Start(ctx context.Context) error {
	sess, err := c.api.GetTodaySession(ctx)
	if err != nil {
		return err
	}
	c.attach(ctx, sess)
	return nil
}

// StartNewConversation discards the current conversation and attaches to a
// fresh session. Callers confirm the discard with the user first.
func (c *Client) StartNewConversation(ctx context.Context) error {
	sess, err := c.api.StartNewSession(ctx)
	if err != nil {
		return err
	}
	c.attach(ctx, sess)
	return nil
}

func (c *Client) attach(ctx context.Context, sess *domain.ChatSession) {
	c.mu.Lock()
	c.sess = sess
	c.tr = transcript.New(sess.ChatUUID, sess.Messages)
	c.mu.Unlock()

	// Connect closes any previous transport before dialing the new session.
	c.transport.Connect(ctx, sess.ChatUUID)
	c.notify()
}

// Run consumes transport events until the context ends or the transport's
// event channel closes. Transcript mutations happen in delivery order.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.transport.Events():
			if !ok {
				return
			}
			c.apply(ev)
		}
	}
}

func (c *Client) apply(ev domain.Event) {
	c.mu.Lock()
	tr, sess := c.tr, c.sess
	c.mu.Unlock()
	if tr == nil {
		return
	}

	// A late authoritative message for a detached session is ignorable.
	if ev.Kind == domain.EventMessageComplete &&
		ev.Message.ChatUUID != "" && ev.Message.ChatUUID != tr.ChatUUID() {
		c.logger.Debug("Ignoring event for detached session", "chat_uuid", ev.Message.ChatUUID)
		return
	}

	tr.Apply(ev)

	// The final summary marks the conversation completed.
	if ev.Kind == domain.EventMessageComplete && strings.Contains(ev.Message.Content, completionMarker) {
		c.mu.Lock()
		if c.sess == sess && sess != nil {
			sess.State = domain.StateCompleted
		}
		c.mu.Unlock()
	}
	c.notify()
}

// SubmitText appends an optimistic free-text entry and relays it.
func (c *Client) SubmitText(ctx context.Context, text string) {
	tr := c.transcript()
	if tr == nil {
		return
	}
	tr.SubmitText(text)
	c.relay(ctx, tr, text, domain.KindText)
}

// SelectButton answers a single-option prompt. Answering "Yes" to the
// chemotherapy check also records today's chemo date before relaying; a
// failure to record is logged and never blocks the conversation.
func (c *Client) SelectButton(ctx context.Context, option string) {
	tr := c.transcript()
	if tr == nil {
		return
	}

	if option == "Yes" && c.lastAssistantAsks(tr, chemoPromptMarker) {
		if err := c.api.LogChemoDate(ctx, c.now()); err != nil {
			c.logger.Warn("Failed to log chemo date", "error", err)
		}
	}

	tr.SelectButton(option)
	c.relay(ctx, tr, option, domain.KindButtonResponse)
}

// PickChemoDate records an explicitly chosen chemotherapy date and relays a
// dated confirmation as a button response.
func (c *Client) PickChemoDate(ctx context.Context, date time.Time) {
	tr := c.transcript()
	if tr == nil {
		return
	}

	if err := c.api.LogChemoDate(ctx, date); err != nil {
		c.logger.Warn("Failed to log chemo date", "error", err)
	}

	content := "Yes, I got chemotherapy on " + date.Format("January 2, 2006")
	tr.SelectButton(content)
	c.relay(ctx, tr, content, domain.KindButtonResponse)
}

// SubmitMultiSelect answers a multi-option prompt.
func (c *Client) SubmitMultiSelect(ctx context.Context, selections []string) {
	tr := c.transcript()
	if tr == nil {
		return
	}
	msg := tr.SubmitMultiSelect(selections)
	c.relay(ctx, tr, msg.Content, domain.KindMultiSelectResponse)
}

// SelectFeeling answers a feeling prompt.
func (c *Client) SelectFeeling(ctx context.Context, feeling string) {
	tr := c.transcript()
	if tr == nil {
		return
	}
	tr.SelectFeeling(feeling)
	c.relay(ctx, tr, feeling, domain.KindFeelingResponse)
}

// relay transmits user input and flips the composing indicator on success.
// The optimistic entry is already on the transcript, so a send failure
// leaves the user's input visible without a spinner.
func (c *Client) relay(ctx context.Context, tr *transcript.Transcript, content string, kind domain.MessageKind) {
	if err := c.transport.Send(ctx, content, kind); err != nil {
		c.logger.Warn("Failed to relay user input", "message_type", kind, "error", err)
	} else {
		tr.SetComposing(true)
	}
	c.notify()
}

// Transcript returns the active transcript, or nil before Start.
func (c *Client) Transcript() *transcript.Transcript {
	return c.transcript()
}

// Session returns the active session, or nil before Start.
func (c *Client) Session() *domain.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// ShowTextInput reports whether the free-text affordance applies: never for
// an ended conversation, otherwise per the transcript's visibility rule.
func (c *Client) ShowTextInput() bool {
	c.mu.Lock()
	sess, tr := c.sess, c.tr
	c.mu.Unlock()
	if sess == nil || tr == nil {
		return false
	}
	if sess.Ended() {
		return false
	}
	return tr.ShowTextInput()
}

func (c *Client) transcript() *transcript.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr
}

func (c *Client) lastAssistantAsks(tr *transcript.Transcript, marker string) bool {
	msgs := tr.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == domain.SenderAssistant {
			return strings.Contains(strings.ToLower(msgs[i].Content), marker)
		}
	}
	return false
}

func (c *Client) notify() {
	c.mu.Lock()
	fn := c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
