// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// Repository persists closed-session transcripts and console settings.
type Repository interface {
	// ArchiveSession stores a closed session and its transcript. Archiving
	// the same session again replaces the earlier copy.
	ArchiveSession(ctx context.Context, session domain.ChatSession, messages []domain.Message) error

	// GetArchivedSession returns nil when the session was never archived.
	GetArchivedSession(ctx context.Context, sessionID int64) (*domain.ChatSession, error)

	// ListArchivedMessages returns the transcript in timestamp order.
	ListArchivedMessages(ctx context.Context, sessionID int64) ([]domain.Message, error)

	// PruneArchive deletes sessions archived longer than ttl ago.
	PruneArchive(ctx context.Context, ttl time.Duration) (int64, error)

	// LoadSettings returns the persisted settings document, or nil if none.
	LoadSettings(ctx context.Context) ([]byte, error)

	// SaveSettings replaces the persisted settings document.
	SaveSettings(ctx context.Context, data []byte) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
