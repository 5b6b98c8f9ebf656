package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakePersister struct {
	mu    sync.Mutex
	saved [][]byte
	err   error
}

func (f *fakePersister) SaveSettings(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, data)
	return f.err
}

func TestMergeOnlyTouchesPresentKeys(t *testing.T) {
	t.Parallel()

	s := Default()
	merged, err := s.Merge(json.RawMessage(`{"sound_alerts":false,"theme":"dark"}`))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged.SoundAlerts {
		t.Fatal("expected sound alerts disabled")
	}
	if !merged.DesktopNotifications || merged.MaxActiveChats != 5 {
		t.Fatalf("absent keys changed: %+v", merged)
	}
	if string(merged.Extra["theme"]) != `"dark"` {
		t.Fatalf("expected unknown key retained, got %v", merged.Extra)
	}
	if s.Extra != nil {
		t.Fatal("Merge must not mutate the receiver")
	}
}

func TestMergeAcceptsCamelCaseKeys(t *testing.T) {
	t.Parallel()

	merged, err := Default().Merge(json.RawMessage(`{"autoAssign":true,"maxActiveChats":2}`))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !merged.AutoAssign || merged.MaxActiveChats != 2 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}

func TestMergeRejectsBadValues(t *testing.T) {
	t.Parallel()

	s := Default()
	if _, err := s.Merge(json.RawMessage(`{"sound_alerts":"loud"}`)); err == nil {
		t.Fatal("expected error for non-boolean sound_alerts")
	}
	if _, err := s.Merge(json.RawMessage(`[1]`)); err == nil {
		t.Fatal("expected error for non-object settings")
	}
}

func TestStoreMergePersistsAndKeepsStateOnPersistFailure(t *testing.T) {
	t.Parallel()

	p := &fakePersister{err: errors.New("disk full")}
	store := NewStore(Default(), p, nil)

	got, err := store.Merge(context.Background(), json.RawMessage(`{"auto_assign":true}`))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !got.AutoAssign || !store.Get().AutoAssign {
		t.Fatal("expected merged value in store")
	}
	if len(p.saved) != 1 {
		t.Fatalf("expected one persist attempt, got %d", len(p.saved))
	}
}
