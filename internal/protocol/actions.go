package protocol

// Action is the outbound discriminator carried in the "action" field.
type Action string

const (
	ActionJoinChat    Action = "join_chat"
	ActionOpenChat    Action = "open_chat"
	ActionSendMessage Action = "send_message"
)

// Outbound is an agent action sent to the server.
type Outbound struct {
	Action    Action `json:"action"`
	SessionID int64  `json:"session_id"`
	Content   string `json:"content,omitempty"`
}

// JoinChat requests assignment of a pending session.
func JoinChat(sessionID int64) Outbound {
	return Outbound{Action: ActionJoinChat, SessionID: sessionID}
}

// OpenChat requests the full history of an active session.
func OpenChat(sessionID int64) Outbound {
	return Outbound{Action: ActionOpenChat, SessionID: sessionID}
}

// SendMessage posts an agent message to a session.
func SendMessage(sessionID int64, content string) Outbound {
	return Outbound{Action: ActionSendMessage, SessionID: sessionID, Content: content}
}
