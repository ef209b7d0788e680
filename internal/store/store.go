// Package store provides data persistence interfaces and implementations
// for the development backend.
package store

import (
	"context"

	"github.com/carebridge/chatsync/internal/domain"
)

// Repository defines the interface for persisting chat sessions, their
// transcripts, and chemotherapy logs.
type Repository interface {
	// GetSession retrieves a session by identifier, without its messages.
	// Returns (nil, nil) when the session does not exist.
	GetSession(ctx context.Context, chatUUID string) (*domain.ChatSession, error)

	// GetSessionForDay retrieves the most recent session created on the
	// given local calendar day ("YYYY-MM-DD"). Returns (nil, nil) when
	// none exists.
	GetSessionForDay(ctx context.Context, day string) (*domain.ChatSession, error)

	// CreateSession persists a new session record for a local day.
	CreateSession(ctx context.Context, sess *domain.ChatSession, day, timezone string) error

	// UpdateSessionState transitions a session's conversation state.
	UpdateSessionState(ctx context.Context, chatUUID string, state domain.ConversationState) error

	// AppendMessage persists a message and returns its assigned identifier.
	AppendMessage(ctx context.Context, msg *domain.Message) (int64, error)

	// ListMessages returns a session's messages in creation order.
	ListMessages(ctx context.Context, chatUUID string) ([]domain.Message, error)

	// LogChemo records a chemotherapy date ("YYYY-MM-DD") with the
	// reporting timezone.
	LogChemo(ctx context.Context, chemoDate, timezone string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
