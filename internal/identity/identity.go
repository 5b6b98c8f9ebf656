// Package identity provides the agent identity bound to the upstream channel
// and the per-console request context.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	ConsoleHeaderName     = "X-Agentdesk-Console-ID"
	DefaultConsoleIDValue = "default"
)

// ErrInvalidAgentID is returned for identities the server would reject.
var ErrInvalidAgentID = errors.New("invalid agent id")

type contextKey int

const (
	agentIDKey contextKey = iota
	consoleIDKey
)

var (
	agentIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,64}$`)
	consoleIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ValidateAgentID trims id and checks it against the accepted character set.
func ValidateAgentID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !agentIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAgentID, id)
	}
	return id, nil
}

// GenerateAgentID returns a random identity for unconfigured local runs.
func GenerateAgentID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate agent id: %w", err)
	}
	return "agent_" + hex.EncodeToString(buf), nil
}

// AgentIDFromContext extracts the agent ID from the request context.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey).(string); ok {
		return v
	}
	return ""
}

// ConsoleIDFromContext extracts the browser tab's console ID.
func ConsoleIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(consoleIDKey).(string); ok {
		return v
	}
	return DefaultConsoleIDValue
}

func sanitizeConsoleID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !consoleIDPattern.MatchString(id) {
		return DefaultConsoleIDValue
	}
	return id
}

func consoleIDFromRequest(r *http.Request) string {
	cid := r.Header.Get(ConsoleHeaderName)
	if cid == "" {
		cid = r.URL.Query().Get("console_id")
	}
	return sanitizeConsoleID(cid)
}

// Middleware injects the agent identity and the per-request console ID.
func Middleware(agentID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), agentIDKey, agentID)
			ctx = context.WithValue(ctx, consoleIDKey, consoleIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
