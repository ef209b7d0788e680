// Package conn maintains the WebSocket transport to the chat backend:
// one live connection per active session, with bounded linear-backoff
// reconnection on abnormal closure.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carebridge/chatsync/internal/credentials"
	"github.com/carebridge/chatsync/internal/domain"
	"github.com/coder/websocket"
)

// ErrNotOpen is returned by Send when no transport is live. Sends are never
// queued; the caller decides whether to retry.
var ErrNotOpen = errors.New("transport is not open")

// Config holds connection manager configuration.
type Config struct {
	BaseURL     string        // http(s) or ws(s) base of the chat backend
	MaxRetries  int           // reconnect ceiling per abnormal-closure streak
	BackoffUnit time.Duration // reconnect delay is BackoffUnit × attempt number
	DialTimeout time.Duration
	EventBuffer int
}

// DefaultConfig returns the reference reconnect policy: up to 3 attempts
// delayed 1s, 2s, 3s.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		MaxRetries:  3,
		BackoffUnit: time.Second,
		DialTimeout: 10 * time.Second,
		EventBuffer: 32,
	}
}

// Manager owns at most one live transport at a time. Inbound frames are
// decoded and delivered on the Events channel; the connection
// acknowledgement frame is consumed internally and malformed frames are
// logged and dropped.
type Manager struct {
	cfg    Config
	creds  credentials.Provider
	logger *slog.Logger

	events    chan domain.Event
	statusCh  chan Status
	closeOnce sync.Once

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	st     Status
}

// NewManager creates a connection manager. The credential provider is
// consulted on every connection attempt.
func NewManager(cfg Config, creds credentials.Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	return &Manager{
		cfg:      cfg,
		creds:    creds,
		logger:   logger,
		events:   make(chan domain.Event, cfg.EventBuffer),
		statusCh: make(chan Status, 16),
		st:       Status{State: StateClosed},
	}
}

// Events returns the channel of inbound events. The channel stays valid
// across reconnects and session switches and is closed by Close.
func (m *Manager) Events() <-chan domain.Event {
	return m.events
}

// StatusUpdates returns a channel of state transitions for UI affordances.
// Updates are dropped rather than blocking the manager if the consumer
// falls behind; Status always has the current snapshot.
func (m *Manager) StatusUpdates() <-chan Status {
	return m.statusCh
}

// Status returns a snapshot of the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Connect binds the manager to a session identifier and starts connecting.
// Any previous transport is closed and any pending reconnect timer is
// cancelled first, so there is never more than one logical transport.
// An empty identifier only detaches.
func (m *Manager) Connect(ctx context.Context, chatUUID string) {
	m.detach()

	if chatUUID == "" {
		m.setStatus(Status{State: StateClosed})
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(runCtx, chatUUID)
	}()
}

// Send transmits user content tagged with its message kind. If the
// transport is not open the call logs and returns ErrNotOpen without
// queueing anything.
func (m *Manager) Send(ctx context.Context, content string, kind domain.MessageKind) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c == nil {
		m.logger.Warn("Cannot send message, transport is not open", "message_type", kind)
		return ErrNotOpen
	}

	data, err := json.Marshal(domain.NewUserMessage(content, kind))
	if err != nil {
		return fmt.Errorf("encode user message: %w", err)
	}
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write user message: %w", err)
	}
	return nil
}

// Close tears down the transport and closes the Events channel. The
// manager cannot be reused afterwards.
func (m *Manager) Close() {
	m.detach()
	m.closeOnce.Do(func() {
		close(m.events)
	})
}

// detach stops the current run loop, cancelling any pending reconnect
// timer, and waits for it to finish.
func (m *Manager) detach() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) run(ctx context.Context, chatUUID string) {
	retries := 0
	for {
		m.setStatus(Status{State: StateConnecting, RetryCount: retries})

		token, err := m.creds.Token()
		if err != nil {
			m.logger.Error("No credential for chat transport", "chat_uuid", chatUUID, "error", err)
			m.setStatus(Status{State: StateErrored, RetryCount: retries, Err: err})
			return
		}

		addr, err := wsURL(m.cfg.BaseURL, chatUUID, token)
		if err != nil {
			m.logger.Error("Invalid backend address", "error", err)
			m.setStatus(Status{State: StateErrored, RetryCount: retries, Err: err})
			return
		}

		opened, err := m.session(ctx, addr)
		if opened {
			// A successful open reset the counter; this closure starts
			// a fresh streak.
			retries = 0
		}
		if ctx.Err() != nil {
			m.setStatus(Status{State: StateClosed, RetryCount: retries})
			return
		}
		if err == nil {
			// Clean closure, no retry.
			m.logger.Info("Chat transport closed", "chat_uuid", chatUUID)
			m.setStatus(Status{State: StateClosed, RetryCount: retries})
			return
		}

		retries++
		if retries > m.cfg.MaxRetries {
			m.logger.Error("Chat transport gave up", "chat_uuid", chatUUID, "retries", m.cfg.MaxRetries, "error", err)
			m.setStatus(Status{
				State:      StateClosed,
				RetryCount: m.cfg.MaxRetries,
				Err:        fmt.Errorf("connection lost after %d retries: %w", m.cfg.MaxRetries, err),
			})
			return
		}

		delay := time.Duration(retries) * m.cfg.BackoffUnit
		m.logger.Warn("Chat transport closed abnormally, retrying",
			"chat_uuid", chatUUID, "attempt", retries, "max", m.cfg.MaxRetries, "delay", delay, "error", err)
		m.setStatus(Status{State: StateClosed, RetryCount: retries})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setStatus(Status{State: StateClosed, RetryCount: retries})
			return
		case <-timer.C:
		}
	}
}

// session dials and reads until the transport drops. It reports whether the
// dial succeeded and, for closures that should trigger a reconnect, the
// closure error. A clean closure returns (true, nil).
func (m *Manager) session(ctx context.Context, addr string) (opened bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	c, _, err := websocket.Dial(dialCtx, addr, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
	m.setStatus(Status{State: StateOpen})
	m.logger.Info("Chat transport open")

	readErr := m.readLoop(ctx, c)

	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
	if closeErr := c.Close(websocket.StatusNormalClosure, "detaching"); closeErr != nil {
		m.logger.Debug("Failed to close websocket", "error", closeErr)
	}

	if websocket.CloseStatus(readErr) == websocket.StatusNormalClosure {
		return true, nil
	}
	if errors.Is(readErr, context.Canceled) {
		return true, nil
	}
	return true, readErr
}

func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn) error {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := domain.ParseEvent(data)
		if err != nil {
			// Malformed frames never tear down the transport.
			m.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if ev.Kind == domain.EventConnectionEstablished {
			m.logger.Debug("Connection acknowledged", "chat_state", string(ev.ChatState))
			continue
		}

		select {
		case m.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) setStatus(st Status) {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()

	select {
	case m.statusCh <- st:
	default:
	}
}

// wsURL builds the transport address from the backend base URL, converting
// http(s) to ws(s) and keying the path to the session identifier.
func wsURL(base, chatUUID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/chat/ws/" + chatUUID
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
