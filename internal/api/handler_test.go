//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentdesk/internal/backend"
	"github.com/ashureev/agentdesk/internal/claim"
	"github.com/ashureev/agentdesk/internal/connection"
	"github.com/ashureev/agentdesk/internal/console"
	"github.com/ashureev/agentdesk/internal/directory"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/settings"
	"github.com/coder/websocket"
)

type fakeConsole struct {
	mu       sync.Mutex
	view     directory.View
	claimErr error
	sendErr  error
	claimed  []int64
	sent     []string
	events   chan console.Event
	state    connection.State
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		view: directory.View{
			Pending: []domain.ChatSession{{ID: 1, CustomerName: "Ann", Status: domain.StatusPending}},
			Active:  []domain.ChatSession{{ID: 5, CustomerName: "Eve", Status: domain.StatusActive}},
		},
		events: make(chan console.Event, 8),
		state:  connection.StateOpen,
	}
}

func (f *fakeConsole) AgentID() string { return "agent-a" }
func (f *fakeConsole) Dashboard() directory.View { return f.view }
func (f *fakeConsole) Settings() settings.Settings { return settings.Default() }
func (f *fakeConsole) Connection() connection.Status { return connection.Status{State: f.state} }
func (f *fakeConsole) Claims() []claim.Intent { return nil }
func (f *fakeConsole) Selected() (int64, bool) { return 0, false }
func (f *fakeConsole) Open(context.Context, int64) error { return nil }

func (f *fakeConsole) Claim(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claimed = append(f.claimed, id)
	return nil
}

func (f *fakeConsole) CloseSession(_ context.Context, id int64) error {
	if id != 5 {
		return fmt.Errorf("close %d: %w", id, claim.ErrNotActive)
	}
	return nil
}

func (f *fakeConsole) Messages(id int64) []domain.Message {
	return []domain.Message{{SessionID: id, Content: "hi", Sender: domain.SenderCustomer}}
}

func (f *fakeConsole) SendMessage(_ context.Context, id int64, content string) (domain.Message, error) {
	if f.sendErr != nil {
		return domain.Message{}, f.sendErr
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, claim.ErrEmptyMessage
	}
	f.mu.Lock()
	f.sent = append(f.sent, content)
	f.mu.Unlock()
	return domain.Message{SessionID: id, Content: content, Sender: domain.SenderAgent, LocalID: "local-1"}, nil
}

func (f *fakeConsole) TicketMessages(_ context.Context, id int64) ([]domain.Message, error) {
	if id == 404 {
		return nil, fmt.Errorf("ticket %d messages: %w", id, backend.ErrNotFound)
	}
	return []domain.Message{{SessionID: id, Content: "archived"}}, nil
}

func (f *fakeConsole) Events(ctx context.Context) <-chan console.Event {
	out := make(chan console.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func newTestServer(t *testing.T, c *fakeConsole) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(RouterConfig{AgentID: "agent-a", IsDev: true}, c))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("claim 1: %w", claim.ErrNotPending), http.StatusConflict},
		{claim.ErrClaimInFlight, http.StatusConflict},
		{console.ErrAtCapacity, http.StatusConflict},
		{claim.ErrEmptyMessage, http.StatusBadRequest},
		{fmt.Errorf("claim 1: %w", connection.ErrNotOpen), http.StatusServiceUnavailable},
		{backend.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGetDashboard(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeConsole())
	resp, err := http.Get(srv.URL + "/api/dashboard")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var body struct {
		Pending []domain.ChatSession `json:"pending"`
		Active  []domain.ChatSession `json:"active"`
	}
	decode(t, resp, &body)
	if len(body.Pending) != 1 || body.Pending[0].ID != 1 || len(body.Active) != 1 {
		t.Fatalf("unexpected dashboard: %+v", body)
	}
}

func TestGetMe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeConsole())
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/me", nil)
	req.Header.Set("X-Agentdesk-Console-ID", "tab-9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var body map[string]interface{}
	decode(t, resp, &body)
	if body["agent_id"] != "agent-a" || body["console_id"] != "tab-9" {
		t.Fatalf("unexpected identity: %v", body)
	}
}

func TestClaimEndpoint(t *testing.T) {
	t.Parallel()

	c := newFakeConsole()
	srv := newTestServer(t, c)

	resp, err := http.Post(srv.URL+"/api/sessions/1/claim", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.claimErr = fmt.Errorf("claim 1: %w", connection.ErrNotOpen)
	c.mu.Unlock()
	resp, err = http.Post(srv.URL+"/api/sessions/1/claim", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusServiceUnavailable || body["error"] != "disconnected" {
		t.Fatalf("expected 503 disconnected, got %d %v", resp.StatusCode, body)
	}

	resp, err = http.Post(srv.URL+"/api/sessions/abc/claim", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestPostMessage(t *testing.T) {
	t.Parallel()

	c := newFakeConsole()
	srv := newTestServer(t, c)

	resp, err := http.Post(srv.URL+"/api/sessions/5/messages", "application/json", strings.NewReader(`{"content":"on it"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	var msg domain.Message
	decode(t, resp, &msg)
	if resp.StatusCode != http.StatusAccepted || msg.Content != "on it" || !msg.IsLocal() {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, msg)
	}

	resp, err = http.Post(srv.URL+"/api/sessions/5/messages", "application/json", strings.NewReader(`{"content":"  "}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", resp.StatusCode)
	}
}

func TestCloseEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeConsole())

	resp, err := http.Post(srv.URL+"/api/sessions/5/close", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/sessions/1/close", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for non-active session, got %d", resp.StatusCode)
	}
}

func TestTicketMessages(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeConsole())

	resp, err := http.Get(srv.URL + "/api/tickets/3/messages")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	decode(t, resp, &body)
	if len(body.Messages) != 1 || body.Messages[0].Content != "archived" {
		t.Fatalf("unexpected ticket messages: %+v", body)
	}

	resp, err = http.Get(srv.URL + "/api/tickets/404/messages")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthReportsUpstream(t *testing.T) {
	t.Parallel()

	c := newFakeConsole()
	c.state = connection.StateReconnecting
	srv := newTestServer(t, c)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "degraded" || body.Checks["upstream"] != "reconnecting" {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, body)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	c := newFakeConsole()
	srv := newTestServer(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.CloseNow()

	readEvent := func() map[string]json.RawMessage {
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		var ev map[string]json.RawMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event %s: %v", data, err)
		}
		return ev
	}

	for _, want := range []string{`"dashboard"`, `"connection"`, `"settings"`} {
		if got := string(readEvent()["type"]); got != want {
			t.Fatalf("expected initial %s event, got %s", want, got)
		}
	}

	c.events <- console.Event{Type: console.EventNotice, Data: domain.Notice{Kind: domain.NoticeRaceLost, Text: "taken"}}
	ev := readEvent()
	if string(ev["type"]) != `"notice"` || !strings.Contains(string(ev["data"]), "race_lost") {
		t.Fatalf("unexpected event: %v", ev)
	}
}

func TestStreamRegistryReplacesSameConsole(t *testing.T) {
	t.Parallel()

	reg := NewStreamRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	reg.Register("tab-1", conn1)
	reg.Register("tab-2", conn2)
	reg.Unregister("tab-1", conn2)

	if reg.Get("tab-1") != conn1 || reg.Len() != 2 {
		t.Fatal("stale unregister must not remove another stream")
	}
	reg.Unregister("tab-1", conn1)
	if reg.Get("tab-1") != nil || reg.Len() != 1 {
		t.Fatal("expected tab-1 removed")
	}
}

func TestConsolePageServed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeConsole())
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected console page, got %d", resp.StatusCode)
	}
}
