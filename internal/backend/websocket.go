package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carebridge/chatsync/internal/config"
	"github.com/carebridge/chatsync/internal/domain"
	"github.com/carebridge/chatsync/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// chunkSize is how much assistant text goes into each streamed frame.
const chunkSize = 24

// WebSocketHandler serves the live chat endpoint. Each connection is tied to
// one session; user messages are persisted, echoed back with their database
// id, and answered with the scripted reply.
type WebSocketHandler struct {
	repo      store.Repository
	cfg       *config.ServerConfig
	responder *Responder
}

// NewWebSocketHandler creates a new chat WebSocket handler.
func NewWebSocketHandler(repo store.Repository, cfg *config.ServerConfig) *WebSocketHandler {
	return &WebSocketHandler{repo: repo, cfg: cfg, responder: &Responder{}}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatUUID := chi.URLParam(r, "chat_uuid")
	token := r.URL.Query().Get("token")
	if token == "" || (h.cfg.AuthToken != "" && token != h.cfg.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := h.repo.GetSession(r.Context(), chatUUID)
	if err != nil {
		slog.Error("Failed to load session", "chat_uuid", chatUUID, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "chat_uuid", chatUUID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "chat_uuid", chatUUID)
		}
	}()

	slog.Info("Chat connection opened", "chat_uuid", chatUUID, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ack := map[string]string{"type": "connection_established", "chat_uuid": chatUUID}
	if err := h.writeJSON(ctx, ws, ack); err != nil {
		slog.Debug("Failed to send connection ack", "error", err)
		return
	}

	h.readLoop(ctx, ws, chatUUID)
	slog.Info("Chat connection closed", "chat_uuid", chatUUID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, chatUUID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "chat_uuid", chatUUID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "chat_uuid", chatUUID)
			}
			return
		}

		var envelope domain.UserMessage
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type != "user_message" {
			slog.Warn("Dropping unrecognized frame", "chat_uuid", chatUUID)
			continue
		}

		if err := h.handleUserMessage(ctx, ws, chatUUID, envelope); err != nil {
			slog.Warn("Failed to handle user message", "error", err, "chat_uuid", chatUUID)
			return
		}
	}
}

// handleUserMessage persists the incoming message, echoes it back with its
// assigned id, then streams or sends the scripted reply.
func (h *WebSocketHandler) handleUserMessage(ctx context.Context, ws *websocket.Conn, chatUUID string, envelope domain.UserMessage) error {
	history, err := h.repo.ListMessages(ctx, chatUUID)
	if err != nil {
		return err
	}

	userMsg := domain.Message{
		ChatUUID:  chatUUID,
		Sender:    domain.SenderUser,
		Kind:      envelope.Kind,
		Content:   envelope.Content,
		CreatedAt: time.Now(),
	}
	userMsg.ID, err = h.repo.AppendMessage(ctx, &userMsg)
	if err != nil {
		return err
	}
	if err := h.writeJSON(ctx, ws, userMsg); err != nil {
		return err
	}

	reply, streamed := h.responder.Reply(history, userMsg)
	reply.ID, err = h.repo.AppendMessage(ctx, &reply)
	if err != nil {
		return err
	}

	if streamed {
		if err := h.streamReply(ctx, ws, reply); err != nil {
			return err
		}
	}
	if err := h.writeJSON(ctx, ws, reply); err != nil {
		return err
	}

	if strings.Contains(reply.Content, completionMarker) {
		if err := h.repo.UpdateSessionState(ctx, chatUUID, domain.StateCompleted); err != nil {
			slog.Warn("Failed to mark session completed", "error", err, "chat_uuid", chatUUID)
		}
	}
	return nil
}

// streamReply delivers the reply text as paced message_chunk frames followed
// by a message_end marker. The complete message object follows separately.
func (h *WebSocketHandler) streamReply(ctx context.Context, ws *websocket.Conn, reply domain.Message) error {
	delay := time.Duration(h.cfg.ChunkDelay) * time.Millisecond
	content := reply.Content
	for start := 0; start < len(content); start += chunkSize {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunk := map[string]interface{}{
			"type":       "message_chunk",
			"message_id": reply.ID,
			"content":    content[start:end],
		}
		if err := h.writeJSON(ctx, ws, chunk); err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return h.writeJSON(ctx, ws, map[string]interface{}{
		"type":       "message_end",
		"message_id": reply.ID,
	})
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
