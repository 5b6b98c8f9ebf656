package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/go-chi/chi/v5"
)

const maxMessageBody = 16 << 10

// SessionHandler serves the dashboard and agent actions.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/settings", h.GetSettings)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/claim", h.Claim)
			r.Post("/open", h.Open)
			r.Post("/close", h.Close)
			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.PostMessage)
		})
		r.Get("/tickets/{id}/messages", h.GetTicketMessages)
	})
}

// GetMe returns the agent identity and channel state.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	selected, _ := h.console.Selected()
	JSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":   identity.AgentIDFromContext(r.Context()),
		"console_id": identity.ConsoleIDFromContext(r.Context()),
		"connection": h.console.Connection(),
		"selected":   selected,
	})
}

// GetDashboard returns all partitions plus outstanding claims.
func (h *SessionHandler) GetDashboard(w http.ResponseWriter, _ *http.Request) {
	view := h.console.Dashboard()
	JSON(w, http.StatusOK, map[string]interface{}{
		"pending": view.Pending,
		"active":  view.Active,
		"closed":  view.Closed,
		"claims":  h.console.Claims(),
	})
}

// GetSettings returns the current console settings.
func (h *SessionHandler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.console.Settings())
}

// Claim starts an optimistic claim of a pending session.
func (h *SessionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := h.console.Claim(r.Context(), id); err != nil {
		slog.Info("Claim rejected", "session_id", id, "error", err)
		Error(w, statusFor(err), errorCode(err))
		return
	}
	JSON(w, http.StatusAccepted, map[string]interface{}{"session_id": id, "status": "claiming"})
}

// Open selects an active session and requests its history.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := h.console.Open(r.Context(), id); err != nil {
		Error(w, statusFor(err), errorCode(err))
		return
	}
	JSON(w, http.StatusAccepted, map[string]interface{}{"session_id": id, "status": "opening"})
}

// Close ends an active session.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := h.console.CloseSession(r.Context(), id); err != nil {
		slog.Warn("Close session failed", "session_id", id, "error", err)
		Error(w, statusFor(err), errorCode(err))
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "status": "closed"})
}

// GetMessages returns the live message log of a session.
func (h *SessionHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   h.console.Messages(id),
	})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage sends an agent message.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.console.SendMessage(r.Context(), id, req.Content)
	if err != nil {
		Error(w, statusFor(err), errorCode(err))
		return
	}
	JSON(w, http.StatusAccepted, msg)
}

// GetTicketMessages returns a closed transcript.
func (h *SessionHandler) GetTicketMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.console.TicketMessages(r.Context(), id)
	if err != nil {
		slog.Warn("Ticket messages unavailable", "ticket_id", id, "error", err)
		Error(w, statusFor(err), errorCode(err))
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id": id,
		"messages":  msgs,
	})
}
