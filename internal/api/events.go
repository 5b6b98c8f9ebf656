package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agentdesk/internal/console"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/coder/websocket"
)

const eventWriteTimeout = 5 * time.Second

// EventsHandler streams console events to a UI over a websocket.
type EventsHandler struct {
	*Handler
	streams       *StreamRegistry
	allowedOrigin string
	isDev         bool
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(base *Handler, streams *StreamRegistry, allowedOrigin string, isDev bool) *EventsHandler {
	return &EventsHandler{
		Handler:       base,
		streams:       streams,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	consoleID := identity.ConsoleIDFromContext(r.Context())
	slog.Info("Event stream request", "console_id", consoleID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "console_id", consoleID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "console_id", consoleID)
		}
	}()

	h.streams.Register(consoleID, ws)
	defer h.streams.Unregister(consoleID, ws)

	// CloseRead discards client frames and cancels ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())
	events := h.console.Events(ctx)

	// Initial state so a fresh tab does not wait for the next change.
	if err := h.writeJSON(ctx, ws, console.Event{Type: console.EventDashboard, Data: h.console.Dashboard()}); err != nil {
		return
	}
	if err := h.writeJSON(ctx, ws, console.Event{Type: console.EventConnection, Data: h.console.Connection()}); err != nil {
		return
	}
	if err := h.writeJSON(ctx, ws, console.Event{Type: console.EventSettings, Data: h.console.Settings()}); err != nil {
		return
	}

	for ev := range events {
		if err := h.writeJSON(ctx, ws, ev); err != nil {
			if ctx.Err() == nil {
				slog.Warn("Event stream write error", "error", err, "console_id", consoleID)
			}
			return
		}
	}
	slog.Info("Event stream ended", "console_id", consoleID)
}

func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *EventsHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
