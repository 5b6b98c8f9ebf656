// Package backend is the HTTP client for the support server's REST endpoints
// that sit beside the websocket channel.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// ErrNotFound is returned when the server does not know the session or ticket.
var ErrNotFound = errors.New("not found")

const maxErrorBody = 4 << 10

// Client calls the support server on behalf of one agent.
type Client struct {
	baseURL string
	agentID string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. timeout <= 0 leaves the http.Client without one.
func New(baseURL, agentID string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		agentID: agentID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "backend"),
	}
}

// CloseSession asks the server to end a session.
func (c *Client) CloseSession(ctx context.Context, sessionID int64) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/close", sessionID))
	if err != nil {
		return fmt.Errorf("close session %d: %w", sessionID, err)
	}
	defer drain(resp.Body)
	return nil
}

// TicketMessages fetches the transcript of a ticket, oldest first as sent by
// the server.
func (c *Client) TicketMessages(ctx context.Context, ticketID int64) ([]domain.Message, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tickets/%d/messages", ticketID))
	if err != nil {
		return nil, fmt.Errorf("ticket %d messages: %w", ticketID, err)
	}
	defer drain(resp.Body)

	var messages []domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode ticket %d messages: %w", ticketID, err)
	}
	for i := range messages {
		if messages[i].SessionID == 0 {
			messages[i].SessionID = ticketID
		}
	}
	return messages, nil
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Agent-ID", c.agentID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		drain(resp.Body)
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		drain(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
