package domain

import "time"

// NoticeKind categorizes user-facing side effects of synchronizer events.
type NoticeKind string

const (
	NoticeNewPending      NoticeKind = "new_pending"
	NoticeAssigned        NoticeKind = "assigned"
	NoticeRaceLost        NoticeKind = "race_lost"
	NoticeCustomerMessage NoticeKind = "customer_message"
	NoticeSessionClosed   NoticeKind = "session_closed"
	NoticeDisconnected    NoticeKind = "disconnected"
)

// Level is the severity used by the presentation layer to pick a toast style.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a toast/sound signal raised by the synchronizer.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Level     Level      `json:"level"`
	SessionID int64      `json:"session_id,omitempty"`
	Text      string     `json:"text"`
	Sound     bool       `json:"sound"`
	At        time.Time  `json:"at"`
}
