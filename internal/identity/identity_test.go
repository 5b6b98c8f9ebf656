package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateAgentID(t *testing.T) {
	t.Parallel()

	if id, err := ValidateAgentID("  alice@support "); err != nil || id != "alice@support" {
		t.Fatalf("expected trimmed id, got %q %v", id, err)
	}
	for _, bad := range []string{"", "has space", strings.Repeat("x", 65), "semi;colon"} {
		if _, err := ValidateAgentID(bad); !errors.Is(err, ErrInvalidAgentID) {
			t.Fatalf("expected ErrInvalidAgentID for %q, got %v", bad, err)
		}
	}
}

func TestGenerateAgentIDIsValid(t *testing.T) {
	t.Parallel()

	id, err := GenerateAgentID()
	if err != nil {
		t.Fatalf("GenerateAgentID failed: %v", err)
	}
	if _, err := ValidateAgentID(id); err != nil {
		t.Fatalf("generated id %q is not valid: %v", id, err)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	t.Parallel()

	var gotAgent, gotConsole string
	h := Middleware("agent-a")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotAgent = AgentIDFromContext(r.Context())
		gotConsole = ConsoleIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(ConsoleHeaderName, "tab-2")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotAgent != "agent-a" || gotConsole != "tab-2" {
		t.Fatalf("unexpected identity %q/%q", gotAgent, gotConsole)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me?console_id=bad%20id", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotConsole != DefaultConsoleIDValue {
		t.Fatalf("invalid console id should fall back, got %q", gotConsole)
	}
}
