package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/carebridge/chatsync/internal/domain"
	_ "modernc.org/sqlite"
)

// isSQLiteConflict reports SQLITE_BUSY and "database is locked" errors,
// the concurrency conflicts that warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}

// writeRetries bounds retries on SQLite concurrency conflicts.
const writeRetries = 3

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		chat_uuid TEXT PRIMARY KEY,
		day TEXT NOT NULL,
		timezone TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_day ON sessions(day, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_uuid TEXT NOT NULL,
		sender TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		structured_data TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_uuid, id);

	CREATE TABLE IF NOT EXISTS chemo_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chemo_date TEXT NOT NULL,
		timezone TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session by identifier, without its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, chatUUID string) (*domain.ChatSession, error) {
	query := `SELECT chat_uuid, state, created_at FROM sessions WHERE chat_uuid = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, query, chatUUID))
}

// GetSessionForDay retrieves the most recent session for a local day.
func (s *SQLiteStore) GetSessionForDay(ctx context.Context, day string) (*domain.ChatSession, error) {
	query := `
		SELECT chat_uuid, state, created_at FROM sessions
		WHERE day = ? ORDER BY created_at DESC LIMIT 1`
	return s.scanSession(s.db.QueryRowContext(ctx, query, day))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var createdAt int64

	err := row.Scan(&sess.ChatUUID, &sess.State, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}

// CreateSession persists a new session record for a local day.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.ChatSession, day, timezone string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `INSERT INTO sessions (chat_uuid, day, timezone, state, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ChatUUID, day, timezone, string(sess.State), sess.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSessionState transitions a session's conversation state.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, chatUUID string, state domain.ConversationState) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ? WHERE chat_uuid = ?`, string(state), chatUUID)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", chatUUID)
	}
	return nil
}

// AppendMessage persists a message and returns its assigned identifier.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var structured interface{}
	if msg.StructuredData != nil {
		data, err := json.Marshal(msg.StructuredData)
		if err != nil {
			return 0, fmt.Errorf("encode structured data: %w", err)
		}
		structured = string(data)
	}

	query := `
		INSERT INTO messages (chat_uuid, sender, message_type, content, structured_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		result, err := s.db.ExecContext(ctx, query,
			msg.ChatUUID, string(msg.Sender), string(msg.Kind), msg.Content,
			structured, msg.CreatedAt.Unix())
		if err == nil {
			id, err := result.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("get message id: %w", err)
			}
			return id, nil
		}
		if !isSQLiteConflict(err) {
			return 0, fmt.Errorf("append message: %w", err)
		}
		lastErr = err
		slog.Warn("SQLite conflict appending message, retrying", "attempt", attempt+1, "error", err)
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return 0, fmt.Errorf("append message after %d attempts: %w", writeRetries, lastErr)
}

// ListMessages returns a session's messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatUUID string) ([]domain.Message, error) {
	query := `
		SELECT id, chat_uuid, sender, message_type, content, structured_data, created_at
		FROM messages WHERE chat_uuid = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, chatUUID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var structured sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &msg.ChatUUID, &msg.Sender, &msg.Kind,
			&msg.Content, &structured, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		if structured.Valid {
			var sd domain.StructuredData
			if err := json.Unmarshal([]byte(structured.String), &sd); err != nil {
				return nil, fmt.Errorf("decode structured data: %w", err)
			}
			msg.StructuredData = &sd
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// LogChemo records a chemotherapy date with the reporting timezone.
func (s *SQLiteStore) LogChemo(ctx context.Context, chemoDate, timezone string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `INSERT INTO chemo_logs (chemo_date, timezone, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, chemoDate, timezone, time.Now().Unix()); err != nil {
		return fmt.Errorf("log chemo date: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
