package domain

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
	SenderSystem   Sender = "system"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderCustomer, SenderAgent, SenderSystem:
		return true
	}
	return false
}

// Message is a single entry in a session's conversation log.
type Message struct {
	SessionID int64     `json:"session_id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp Timestamp `json:"timestamp"`

	// LocalID is set on agent messages inserted before the server echo.
	LocalID string `json:"local_id,omitempty"`
}

// IsLocal reports whether the message is an unconfirmed local insertion.
func (m *Message) IsLocal() bool {
	return m.LocalID != ""
}
