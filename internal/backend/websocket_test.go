package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/carebridge/chatsync/internal/config"
	"github.com/carebridge/chatsync/internal/domain"
	"github.com/coder/websocket"
)

func dialChat(t *testing.T, ctx context.Context, srvURL, chatUUID, token string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(srvURL, "http", "ws", 1) + "/chat/ws/" + chatUUID + "?token=" + token
	ws, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readEvent(t *testing.T, ctx context.Context, ws *websocket.Conn) domain.Event {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	ev, err := domain.ParseEvent(data)
	if err != nil {
		t.Fatalf("parse frame %s: %v", data, err)
	}
	return ev
}

func sendEnvelope(t *testing.T, ctx context.Context, ws *websocket.Conn, content string, kind domain.MessageKind) {
	t.Helper()
	data, err := json.Marshal(domain.NewUserMessage(content, kind))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	srv, _ := newTestServer(t, &config.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess := decodeSession(t, doJSON(t, http.MethodGet, srv.URL+"/chat/session/today?timezone=UTC", "dev", nil))
	ws := dialChat(t, ctx, srv.URL, sess.ChatUUID, "dev")

	if ev := readEvent(t, ctx, ws); ev.Kind != domain.EventConnectionEstablished {
		t.Fatalf("first frame kind = %v, want connection ack", ev.Kind)
	}

	// Answer the chemo check. The echo must carry a concrete id.
	sendEnvelope(t, ctx, ws, "No", domain.KindButtonResponse)

	echo := readEvent(t, ctx, ws)
	if echo.Kind != domain.EventMessageComplete {
		t.Fatalf("echo kind = %v, want complete message", echo.Kind)
	}
	if echo.Message.Sender != domain.SenderUser || echo.Message.ID <= 0 {
		t.Fatalf("echo = %+v, want persisted user message", echo.Message)
	}
	if echo.Message.Content != "No" {
		t.Fatalf("echo content = %q, want %q", echo.Message.Content, "No")
	}

	// A button response is answered with the symptom multi-select prompt.
	reply := readEvent(t, ctx, ws)
	if reply.Kind != domain.EventMessageComplete {
		t.Fatalf("reply kind = %v, want complete message", reply.Kind)
	}
	if reply.Message.Kind != domain.KindMultiSelect {
		t.Fatalf("reply message kind = %q, want multi-select", reply.Message.Kind)
	}
	if reply.Message.StructuredData == nil || len(reply.Message.StructuredData.Options) == 0 {
		t.Fatal("expected symptom options on the multi-select prompt")
	}
}

func TestWebSocketStreamsTextReplies(t *testing.T) {
	srv, _ := newTestServer(t, &config.ServerConfig{ChunkDelay: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess := decodeSession(t, doJSON(t, http.MethodGet, srv.URL+"/chat/session/today?timezone=UTC", "dev", nil))
	ws := dialChat(t, ctx, srv.URL, sess.ChatUUID, "dev")
	readEvent(t, ctx, ws) // connection ack

	sendEnvelope(t, ctx, ws, "Okay", domain.KindFeelingResponse)
	readEvent(t, ctx, ws) // user echo

	var assembled strings.Builder
	var sawEnd bool
	var final *domain.Message
	for final == nil {
		ev := readEvent(t, ctx, ws)
		switch ev.Kind {
		case domain.EventMessageChunk:
			if sawEnd {
				t.Fatal("chunk after message_end")
			}
			assembled.WriteString(ev.Fragment)
		case domain.EventMessageEnd:
			sawEnd = true
		case domain.EventMessageComplete:
			final = ev.Message
		default:
			t.Fatalf("unexpected event kind %v", ev.Kind)
		}
	}

	if !sawEnd {
		t.Fatal("expected a message_end before the complete message")
	}
	if assembled.String() != final.Content {
		t.Fatalf("chunks assemble to %q, final content %q", assembled.String(), final.Content)
	}
	if final.Sender != domain.SenderAssistant || final.ID <= 0 {
		t.Fatalf("final = %+v, want persisted assistant message", final)
	}
}

func TestWebSocketCompletionMarksSession(t *testing.T) {
	srv, repo := newTestServer(t, &config.ServerConfig{ChunkDelay: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess := decodeSession(t, doJSON(t, http.MethodGet, srv.URL+"/chat/session/today?timezone=UTC", "dev", nil))
	ws := dialChat(t, ctx, srv.URL, sess.ChatUUID, "dev")
	readEvent(t, ctx, ws) // connection ack

	// Two free-text turns already on record push the third reply to the
	// completion summary.
	var lastReply *domain.Message
	for i := 0; i < 3; i++ {
		sendEnvelope(t, ctx, ws, "still feeling tired", domain.KindText)
		for {
			ev := readEvent(t, ctx, ws)
			if ev.Kind == domain.EventMessageComplete && ev.Message.Sender == domain.SenderAssistant {
				lastReply = ev.Message
				break
			}
		}
	}

	if !strings.Contains(lastReply.Content, completionMarker) {
		t.Fatalf("final reply %q does not contain the completion marker", lastReply.Content)
	}

	stored, err := repo.GetSession(ctx, sess.ChatUUID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.State != domain.StateCompleted {
		t.Fatalf("state = %q, want %q", stored.State, domain.StateCompleted)
	}
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, &config.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http", "ws", 1) + "/chat/ws/no-such-session?token=dev"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Fatal("expected dial to fail for an unknown session")
	}
}

func TestWebSocketDropsMalformedEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, &config.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess := decodeSession(t, doJSON(t, http.MethodGet, srv.URL+"/chat/session/today?timezone=UTC", "dev", nil))
	ws := dialChat(t, ctx, srv.URL, sess.ChatUUID, "dev")
	readEvent(t, ctx, ws) // connection ack

	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	// The connection survives and the next real envelope is processed.
	sendEnvelope(t, ctx, ws, "hello", domain.KindText)
	echo := readEvent(t, ctx, ws)
	if echo.Kind != domain.EventMessageComplete || echo.Message.Content != "hello" {
		t.Fatalf("echo = %+v, want the hello message", echo)
	}
}
