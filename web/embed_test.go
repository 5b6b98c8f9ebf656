package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConsoleHandlerServesIndex(t *testing.T) {
	h := ConsoleHandler()

	for _, p := range []string{"/", "/sessions/42"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", p, w.Code)
		}
		body, _ := io.ReadAll(w.Body)
		if !strings.Contains(string(body), "/ws/events") {
			t.Errorf("GET %s: expected console page, got %q", p, body)
		}
		if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
			t.Errorf("GET %s: expected no-cache, got %q", p, cc)
		}
	}
}

func TestConsoleHandlerServesAssets(t *testing.T) {
	w := httptest.NewRecorder()
	ConsoleHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/console.js", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Errorf("expected javascript content type, got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Errorf("expected cacheable asset, got %q", cc)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("expected ETag on asset")
	}
}

func TestConsoleHandlerRevalidatesWithETag(t *testing.T) {
	h := ConsoleHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/console.js", nil))
	etag := w.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodGet, "/console.js", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for matching ETag, got %d", w.Code)
	}
}

func TestConsoleHandlerLeavesAPIPathsAlone(t *testing.T) {
	h := ConsoleHandler()

	for _, p := range []string{"/api/unknown", "/ws/nope"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", p, w.Code)
		}
	}
}
