// Package session loads and creates chat sessions over the backend's REST
// interface. The caller's local day boundary is always passed explicitly as
// an IANA timezone so the server never has to infer it.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carebridge/chatsync/internal/credentials"
	"github.com/carebridge/chatsync/internal/domain"
)

// Service issues authenticated REST calls against the chat backend.
// Failures surface as errors for the caller's retry affordance; nothing
// here retries automatically.
type Service struct {
	baseURL  string
	timezone string
	creds    credentials.Provider
	client   *http.Client
	logger   *slog.Logger
}

// NewService creates a session service. timezone is the IANA name reported
// to the backend on day-scoped calls.
func NewService(baseURL, timezone string, creds credentials.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timezone: timezone,
		creds:    creds,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// GetTodaySession fetches the session for the caller's current calendar
// day, creating one server-side if none exists yet.
func (s *Service) GetTodaySession(ctx context.Context) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	path := "/chat/session/today?timezone=" + url.QueryEscape(s.timezone)
	if err := s.do(ctx, http.MethodGet, path, nil, &sess); err != nil {
		return nil, fmt.Errorf("load today session: %w", err)
	}
	return &sess, nil
}

// StartNewSession creates a fresh session for the current local day,
// discarding any unfinished conversation. The caller is expected to have
// confirmed the discard with the user.
func (s *Service) StartNewSession(ctx context.Context) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	path := "/chat/session/new?timezone=" + url.QueryEscape(s.timezone)
	if err := s.do(ctx, http.MethodPost, path, nil, &sess); err != nil {
		return nil, fmt.Errorf("start new session: %w", err)
	}
	return &sess, nil
}

// SendMessage posts a message over REST. The primary send path is the
// WebSocket transport; this is the supplementary path.
func (s *Service) SendMessage(ctx context.Context, chatUUID, content string) error {
	body := map[string]string{"chat_uuid": chatUUID, "content": content}
	if err := s.do(ctx, http.MethodPost, "/chat/message", body, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// LogChemoDate records a chemotherapy date. The date is formatted in the
// caller's local calendar, never converted through UTC.
func (s *Service) LogChemoDate(ctx context.Context, date time.Time) error {
	body := map[string]string{
		"chemo_date": date.Format("2006-01-02"),
		"timezone":   s.timezone,
	}
	if err := s.do(ctx, http.MethodPost, "/chemo/log", body, nil); err != nil {
		return fmt.Errorf("log chemo date: %w", err)
	}
	return nil
}

func (s *Service) do(ctx context.Context, method, path string, body, out any) error {
	token, err := s.creds.Token()
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
