// Package domain contains core domain types for the agent support console.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	// StatusPending marks a chat request no agent has accepted yet.
	StatusPending SessionStatus = "pending"
	// StatusActive marks a chat assigned to exactly one agent.
	StatusActive SessionStatus = "active"
	// StatusClosed marks a finished chat. Closed is terminal.
	StatusClosed SessionStatus = "closed"
)

// ChatSession is a customer support conversation as broadcast by the server.
type ChatSession struct {
	ID              int64         `json:"id"`
	CustomerName    string        `json:"customer_name"`
	CustomerContact string        `json:"customer_contact,omitempty"`
	Status          SessionStatus `json:"status"`
	CreatedAt       Timestamp     `json:"created_at"`
	IssueCategory   string        `json:"issue_category,omitempty"`
	IssueType       string        `json:"issue_type,omitempty"`
	AssignedAgent   string        `json:"assigned_agent,omitempty"`
	Rating          *int          `json:"rating,omitempty"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`

	// Optimistic is set while the entry reflects an unconfirmed local claim.
	Optimistic bool `json:"optimistic,omitempty"`
}

// IsAssignedTo reports whether the session is assigned to the given agent.
func (s *ChatSession) IsAssignedTo(agentID string) bool {
	return agentID != "" && s.AssignedAgent == agentID
}
