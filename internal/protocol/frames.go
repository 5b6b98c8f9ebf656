// Package protocol defines the JSON frames exchanged with the support server
// over the agent's websocket channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/agentdesk/internal/domain"
)

var (
	// ErrMalformed is returned for frames that are not valid JSON or miss required fields.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownType is returned for frames whose type discriminator is not recognized.
	ErrUnknownType = errors.New("unknown frame type")
)

// FrameType is the inbound discriminator carried in the "type" field.
type FrameType string

const (
	TypeDashboardUpdate  FrameType = "dashboard_update"
	TypeChatAssigned     FrameType = "chat_assigned"
	TypeChatTaken        FrameType = "chat_taken"
	TypeChatAlreadyTaken FrameType = "chat_already_taken"
	TypeMessage          FrameType = "message"
	TypeHistory          FrameType = "history"
	TypeSessionClosed    FrameType = "session_closed"
	TypeSettingsUpdate   FrameType = "SETTINGS_UPDATE"
)

// DashboardUpdate is a full snapshot of the pending and active partitions.
type DashboardUpdate struct {
	Pending []domain.ChatSession `json:"pending"`
	Active  []domain.ChatSession `json:"active"`
}

// ChatAssigned confirms this agent's claim.
type ChatAssigned struct {
	SessionID    int64  `json:"session_id"`
	CustomerName string `json:"customer_name"`
	Message      string `json:"message"`
}

// ChatTaken reports that another agent won a session.
type ChatTaken struct {
	SessionID int64  `json:"session_id"`
	TakenBy   string `json:"taken_by"`
}

// ChatAlreadyTaken rejects this agent's claim.
type ChatAlreadyTaken struct {
	SessionID int64  `json:"session_id"`
	Message   string `json:"message"`
}

// LiveMessage is one message pushed for a session.
type LiveMessage struct {
	SessionID int64         `json:"session_id"`
	Content   string        `json:"content"`
	Sender    domain.Sender `json:"sender"`
	Timestamp domain.Timestamp `json:"timestamp"`
}

// History is the full message log of one session.
type History struct {
	SessionID int64            `json:"session_id"`
	Messages  []domain.Message `json:"messages"`
}

// SessionClosed reports that a session ended.
type SessionClosed struct {
	SessionID int64 `json:"session_id"`
}

// SettingsUpdate carries a partial settings object to merge.
type SettingsUpdate struct {
	Settings json.RawMessage `json:"settings"`
}

// Frame is a decoded inbound frame. Payload holds one of the payload types
// above, by value.
type Frame struct {
	Type    FrameType
	Payload any
}

type envelope struct {
	Type FrameType `json:"type"`
}

// Decode parses a raw frame and validates the fields each type depends on.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	f := Frame{Type: env.Type}
	var err error
	switch env.Type {
	case TypeDashboardUpdate:
		var p DashboardUpdate
		err = unmarshal(data, &p)
		f.Payload = p
	case TypeChatAssigned:
		var p ChatAssigned
		if err = unmarshal(data, &p); err == nil {
			err = requireSession(p.SessionID)
		}
		f.Payload = p
	case TypeChatTaken:
		var p ChatTaken
		if err = unmarshal(data, &p); err == nil {
			err = requireSession(p.SessionID)
		}
		f.Payload = p
	case TypeChatAlreadyTaken:
		var p ChatAlreadyTaken
		if err = unmarshal(data, &p); err == nil {
			err = requireSession(p.SessionID)
		}
		f.Payload = p
	case TypeMessage:
		var p LiveMessage
		if err = unmarshal(data, &p); err == nil {
			err = requireSession(p.SessionID)
		}
		if err == nil && !p.Sender.Valid() {
			err = fmt.Errorf("%w: unknown sender %q", ErrMalformed, p.Sender)
		}
		f.Payload = p
	case TypeHistory:
		var p History
		if err = unmarshal(data, &p); err == nil {
			err = requireSession(p.SessionID)
		}
		f.Payload = p
	case TypeSessionClosed:
		var p SessionClosed
		if err = unmarshal(data, &p); err == nil {
			err = requireSession(p.SessionID)
		}
		f.Payload = p
	case TypeSettingsUpdate:
		var p SettingsUpdate
		if err = unmarshal(data, &p); err == nil {
			trimmed := bytes.TrimSpace(p.Settings)
			if len(trimmed) == 0 || trimmed[0] != '{' {
				err = fmt.Errorf("%w: settings must be an object", ErrMalformed)
			}
		}
		f.Payload = p
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func requireSession(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: missing session_id", ErrMalformed)
	}
	return nil
}
