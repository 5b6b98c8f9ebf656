package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	_ "modernc.org/sqlite"
)

const settingsKey = "console"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the archive worker write while API reads are in flight.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
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
	CREATE TABLE IF NOT EXISTS archived_sessions (
		session_id INTEGER PRIMARY KEY,
		customer_name TEXT NOT NULL,
		customer_contact TEXT,
		issue_category TEXT,
		issue_type TEXT,
		assigned_agent TEXT,
		rating INTEGER,
		created_at INTEGER NOT NULL,
		closed_at INTEGER,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archived_at ON archived_sessions(archived_at);

	CREATE TABLE IF NOT EXISTS archived_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES archived_sessions(session_id) ON DELETE CASCADE,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archived_messages_session ON archived_messages(session_id, sent_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ArchiveSession stores a closed session and its transcript in one transaction.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, session domain.ChatSession, messages []domain.Message) error {
	return withRetry(ctx, "archive_session", func() error {
		return s.archiveOnce(ctx, session, messages)
	})
}

func (s *SQLiteStore) archiveOnce(ctx context.Context, session domain.ChatSession, messages []domain.Message) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back archive", "error", rbErr, "session_id", session.ID)
			}
		}
	}()

	var rating, closedAt any
	if session.Rating != nil {
		rating = *session.Rating
	}
	if session.ClosedAt != nil {
		closedAt = session.ClosedAt.UnixNano()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archived_sessions (
			session_id, customer_name, customer_contact, issue_category, issue_type,
			assigned_agent, rating, created_at, closed_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			customer_name = excluded.customer_name,
			customer_contact = excluded.customer_contact,
			issue_category = excluded.issue_category,
			issue_type = excluded.issue_type,
			assigned_agent = excluded.assigned_agent,
			rating = excluded.rating,
			closed_at = excluded.closed_at,
			archived_at = excluded.archived_at`,
		session.ID, session.CustomerName, session.CustomerContact,
		session.IssueCategory, session.IssueType, session.AssignedAgent,
		rating, session.CreatedAt.UnixNano(), closedAt, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert archived session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM archived_messages WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear archived messages: %w", err)
	}

	for _, m := range messages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO archived_messages (session_id, sender, content, sent_at) VALUES (?, ?, ?, ?)`,
			session.ID, string(m.Sender), m.Content, m.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert archived message: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// GetArchivedSession returns an archived session, or nil if absent.
func (s *SQLiteStore) GetArchivedSession(ctx context.Context, sessionID int64) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, customer_name, customer_contact, issue_category, issue_type,
		       assigned_agent, rating, created_at, closed_at
		FROM archived_sessions WHERE session_id = ?`

	var session domain.ChatSession
	var contact, category, issueType, agent sql.NullString
	var rating, closedAt sql.NullInt64
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.CustomerName, &contact, &category, &issueType,
		&agent, &rating, &createdAt, &closedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan archived session: %w", err)
	}

	session.Status = domain.StatusClosed
	session.CustomerContact = contact.String
	session.IssueCategory = category.String
	session.IssueType = issueType.String
	session.AssignedAgent = agent.String
	session.CreatedAt = domain.At(time.Unix(0, createdAt).UTC())
	if rating.Valid {
		r := int(rating.Int64)
		session.Rating = &r
	}
	if closedAt.Valid {
		ts := time.Unix(0, closedAt.Int64).UTC()
		session.ClosedAt = &ts
	}
	return &session, nil
}

// ListArchivedMessages returns an archived transcript oldest first.
func (s *SQLiteStore) ListArchivedMessages(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, content, sent_at FROM archived_messages WHERE session_id = ? ORDER BY sent_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query archived messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close archived messages rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var sender string
		var sentAt int64
		m := domain.Message{SessionID: sessionID}
		if err := rows.Scan(&sender, &m.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("scan archived message: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.Timestamp = domain.At(time.Unix(0, sentAt).UTC())
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived messages: %w", err)
	}
	return messages, nil
}

// PruneArchive removes sessions archived before now-ttl, with their messages.
func (s *SQLiteStore) PruneArchive(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixNano()
	var deleted int64
	err := withRetry(ctx, "prune_archive", func() error {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM archived_messages WHERE session_id IN (
				SELECT session_id FROM archived_sessions WHERE archived_at < ?)`, threshold); err != nil {
			return fmt.Errorf("prune archived messages: %w", err)
		}
		result, err := s.db.ExecContext(ctx, `DELETE FROM archived_sessions WHERE archived_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("prune archived sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// LoadSettings returns the stored settings document, or nil if none.
func (s *SQLiteStore) LoadSettings(ctx context.Context) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return []byte(value), nil
}

// SaveSettings upserts the settings document.
func (s *SQLiteStore) SaveSettings(ctx context.Context, data []byte) error {
	return withRetry(ctx, "save_settings", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			settingsKey, string(data), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return nil
	})
}
