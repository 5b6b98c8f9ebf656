// Package api provides the local HTTP API the agent console UI talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/agentdesk/internal/backend"
	"github.com/ashureev/agentdesk/internal/claim"
	"github.com/ashureev/agentdesk/internal/connection"
	"github.com/ashureev/agentdesk/internal/console"
	"github.com/ashureev/agentdesk/internal/directory"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/loop"
	"github.com/ashureev/agentdesk/internal/settings"
	"github.com/go-chi/chi/v5"
)

// Console is the synchronizer surface the handlers need.
type Console interface {
	AgentID() string
	Dashboard() directory.View
	Settings() settings.Settings
	Connection() connection.Status
	Claims() []claim.Intent
	Selected() (int64, bool)
	Claim(ctx context.Context, sessionID int64) error
	Open(ctx context.Context, sessionID int64) error
	CloseSession(ctx context.Context, sessionID int64) error
	Messages(sessionID int64) []domain.Message
	SendMessage(ctx context.Context, sessionID int64, content string) (domain.Message, error)
	TicketMessages(ctx context.Context, ticketID int64) ([]domain.Message, error)
	Events(ctx context.Context) <-chan console.Event
}

// Handler provides common handler utilities.
type Handler struct {
	console Console
}

// NewHandler creates a new Handler.
func NewHandler(c Console) *Handler {
	return &Handler{console: c}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps synchronizer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, claim.ErrNotPending),
		errors.Is(err, claim.ErrClaimInFlight),
		errors.Is(err, claim.ErrNotActive),
		errors.Is(err, console.ErrAtCapacity):
		return http.StatusConflict
	case errors.Is(err, claim.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, connection.ErrNotOpen),
		errors.Is(err, loop.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// errorCode is the stable machine-readable error string for err.
func errorCode(err error) string {
	switch {
	case errors.Is(err, claim.ErrNotPending):
		return "not_pending"
	case errors.Is(err, claim.ErrClaimInFlight):
		return "claim_in_flight"
	case errors.Is(err, claim.ErrNotActive):
		return "not_active"
	case errors.Is(err, console.ErrAtCapacity):
		return "at_capacity"
	case errors.Is(err, claim.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, backend.ErrNotFound):
		return "not_found"
	case errors.Is(err, connection.ErrNotOpen):
		return "disconnected"
	default:
		return err.Error()
	}
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}
