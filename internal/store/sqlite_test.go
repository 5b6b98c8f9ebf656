package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "agentdesk.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func closedSession(id int64) domain.ChatSession {
	rating := 4
	closedAt := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	return domain.ChatSession{
		ID:            id,
		CustomerName:  "Dana",
		Status:        domain.StatusClosed,
		CreatedAt:     domain.At(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		IssueCategory: "billing",
		AssignedAgent: "agent-a",
		Rating:        &rating,
		ClosedAt:      &closedAt,
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []domain.Message{
		{SessionID: 3, Content: "second", Sender: domain.SenderAgent, Timestamp: domain.At(base.Add(time.Minute))},
		{SessionID: 3, Content: "first", Sender: domain.SenderCustomer, Timestamp: domain.At(base)},
	}

	if err := s.ArchiveSession(ctx, closedSession(3), msgs); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}

	got, err := s.GetArchivedSession(ctx, 3)
	if err != nil || got == nil {
		t.Fatalf("GetArchivedSession: %v %v", got, err)
	}
	if got.CustomerName != "Dana" || got.Status != domain.StatusClosed || got.Rating == nil || *got.Rating != 4 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(*closedSession(3).ClosedAt) {
		t.Fatalf("closed_at not preserved: %v", got.ClosedAt)
	}

	list, err := s.ListArchivedMessages(ctx, 3)
	if err != nil {
		t.Fatalf("ListArchivedMessages failed: %v", err)
	}
	if len(list) != 2 || list[0].Content != "first" || list[1].Content != "second" {
		t.Fatalf("expected timestamp order, got %+v", list)
	}
}

func TestArchiveTwiceReplacesTranscript(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.ArchiveSession(ctx, closedSession(1), []domain.Message{{Content: "a", Sender: domain.SenderCustomer, Timestamp: domain.At(now)}})
	if err := s.ArchiveSession(ctx, closedSession(1), []domain.Message{{Content: "b", Sender: domain.SenderAgent, Timestamp: domain.At(now)}}); err != nil {
		t.Fatalf("second archive failed: %v", err)
	}

	list, _ := s.ListArchivedMessages(ctx, 1)
	if len(list) != 1 || list[0].Content != "b" {
		t.Fatalf("expected replaced transcript, got %+v", list)
	}
}

func TestGetArchivedSessionMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	got, err := s.GetArchivedSession(context.Background(), 99)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestPruneArchive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	_ = s.ArchiveSession(ctx, closedSession(1), []domain.Message{{Content: "x", Sender: domain.SenderCustomer, Timestamp: domain.At(time.Now())}})

	if n, err := s.PruneArchive(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("fresh archive must survive: n=%d err=%v", n, err)
	}

	time.Sleep(5 * time.Millisecond)
	n, err := s.PruneArchive(ctx, time.Millisecond)
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned session: n=%d err=%v", n, err)
	}
	if list, _ := s.ListArchivedMessages(ctx, 1); len(list) != 0 {
		t.Fatalf("messages must be pruned with the session, got %+v", list)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if data, err := s.LoadSettings(ctx); err != nil || data != nil {
		t.Fatalf("expected no settings, got %q %v", data, err)
	}
	if err := s.SaveSettings(ctx, []byte(`{"sound_alerts":false}`)); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if err := s.SaveSettings(ctx, []byte(`{"sound_alerts":true}`)); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	data, err := s.LoadSettings(ctx)
	if err != nil || string(data) != `{"sound_alerts":true}` {
		t.Fatalf("unexpected settings: %q %v", data, err)
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d err=%v", calls, err)
	}

	calls = 0
	permanent := errors.New("no such table")
	if err := withRetry(context.Background(), "test", func() error { calls++; return permanent }); !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-conflict errors must not retry, calls=%d err=%v", calls, err)
	}
}

func TestArchiverWritesInBackground(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := NewArchiver(s, nil)
	a.Archive(closedSession(8), []domain.Message{{Content: "bye", Sender: domain.SenderAgent, Timestamp: domain.At(time.Now())}})
	a.Close()

	got, err := s.GetArchivedSession(context.Background(), 8)
	if err != nil || got == nil {
		t.Fatalf("expected archived session after Close, got %v %v", got, err)
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	if _, err := ParseSchedule(DefaultPruneSchedule); err != nil {
		t.Fatalf("default schedule rejected: %v", err)
	}
	if _, err := ParseSchedule("every hour"); err == nil {
		t.Fatal("expected parse error")
	}
}
