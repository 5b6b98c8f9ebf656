// Package settings owns the process-wide console settings and their merge
// semantics for SETTINGS_UPDATE pushes.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/agentdesk/internal/pubsub"
)

// Settings are the console preferences pushed by the server or set locally.
type Settings struct {
	SoundAlerts          bool `json:"sound_alerts"`
	DesktopNotifications bool `json:"desktop_notifications"`
	AutoAssign           bool `json:"auto_assign"`
	MaxActiveChats       int  `json:"max_active_chats"`

	// Extra keeps keys this client does not interpret so they round-trip.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Default returns the settings used before any update arrives.
func Default() Settings {
	return Settings{
		SoundAlerts:          true,
		DesktopNotifications: true,
		MaxActiveChats:       5,
	}
}

// clone copies s so callers never share the Extra map.
func (s Settings) clone() Settings {
	if s.Extra != nil {
		extra := make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			extra[k] = v
		}
		s.Extra = extra
	}
	return s
}

// Merge applies the keys present in raw on top of s. Absent keys keep their
// current value.
func (s Settings) Merge(raw json.RawMessage) (Settings, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}

	out := s.clone()
	for key, value := range fields {
		var err error
		switch key {
		case "sound_alerts", "soundAlerts":
			err = json.Unmarshal(value, &out.SoundAlerts)
		case "desktop_notifications", "desktopNotifications":
			err = json.Unmarshal(value, &out.DesktopNotifications)
		case "auto_assign", "autoAssign":
			err = json.Unmarshal(value, &out.AutoAssign)
		case "max_active_chats", "maxActiveChats":
			err = json.Unmarshal(value, &out.MaxActiveChats)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = value
		}
		if err != nil {
			return s, fmt.Errorf("decode settings key %q: %w", key, err)
		}
	}
	return out, nil
}

// Persister saves settings so they survive restarts.
type Persister interface {
	SaveSettings(ctx context.Context, data []byte) error
}

// Store is the single owner of the current settings.
type Store struct {
	mu        sync.RWMutex
	current   Settings
	persister Persister
	changes   *pubsub.Topic[Settings]
	logger    *slog.Logger
}

// NewStore creates a store seeded with initial. persister may be nil.
func NewStore(initial Settings, persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		current:   initial.clone(),
		persister: persister,
		changes:   pubsub.NewTopic[Settings]("settings", logger),
		logger:    logger.With("component", "settings"),
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Subscribe returns a channel receiving settings after each merge.
func (s *Store) Subscribe(ctx context.Context) <-chan Settings {
	return s.changes.Subscribe(ctx)
}

// Merge applies a partial update and persists the result. A persistence
// failure is logged; the in-memory merge still stands.
func (s *Store) Merge(ctx context.Context, raw json.RawMessage) (Settings, error) {
	s.mu.Lock()
	merged, err := s.current.Merge(raw)
	if err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.current = merged
	s.mu.Unlock()

	if s.persister != nil {
		data, err := json.Marshal(merged)
		if err == nil {
			err = s.persister.SaveSettings(ctx, data)
		}
		if err != nil {
			s.logger.Warn("failed to persist settings", "error", err)
		}
	}

	s.changes.Publish(merged.clone())
	return merged.clone(), nil
}
