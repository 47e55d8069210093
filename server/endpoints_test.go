package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/recorder"
	"github.com/onnwee/livechat-archiver/youtubeapi"
)

type fakeRecorder struct {
	snap recorder.Snapshot
}

func (f *fakeRecorder) Snapshot() recorder.Snapshot { return f.snap }

type fakeCreds struct {
	cred youtubeapi.Credential
	err  error
}

func (f *fakeCreds) Credential(context.Context) (youtubeapi.Credential, error) {
	return f.cred, f.err
}

func newTestMux(t *testing.T, h *Handlers) http.Handler {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", "")
	return NewMux(h)
}

func TestHealthz(t *testing.T) {
	h := NewHandlers(&fakeRecorder{}, &fakeCreds{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	newTestMux(t, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rr.Body.String())
	}
}

func TestCorrelationHeader(t *testing.T) {
	h := NewHandlers(&fakeRecorder{}, &fakeCreds{}, nil, nil)
	mux := newTestMux(t, h)

	// Generated when absent.
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("response missing generated X-Correlation-ID")
	}

	// Echoed when provided.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	connectedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &fakeRecorder{snap: recorder.Snapshot{
		State:          recorder.StateConnected,
		Cursor:         feed.Cursor{LiveChatID: "chat-1", PageToken: "tok-9"},
		ConnectedAt:    connectedAt,
		BatchesLogged:  4,
		MessagesLogged: 17,
		Heartbeats:     2,
		Reconnects:     1,
	}}
	h := NewHandlers(rec, &fakeCreds{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	newTestMux(t, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["state"] != "connected" {
		t.Errorf("state = %v, want connected", resp["state"])
	}
	if resp["live_chat_id"] != "chat-1" || resp["page_token"] != "tok-9" {
		t.Errorf("cursor = %v/%v, want chat-1/tok-9", resp["live_chat_id"], resp["page_token"])
	}
	if resp["batches_logged"] != float64(4) || resp["messages_logged"] != float64(17) {
		t.Errorf("counters = %v/%v, want 4/17", resp["batches_logged"], resp["messages_logged"])
	}
	if resp["connected_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("connected_at = %v", resp["connected_at"])
	}
	if _, present := resp["retry_at"]; present {
		t.Error("retry_at should be omitted while not reconnecting")
	}
}

func TestStatusWithoutRecorder(t *testing.T) {
	h := NewHandlers(nil, &fakeCreds{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	newTestMux(t, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["state"] != "not_running" {
		t.Errorf("state = %v, want not_running", resp["state"])
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	h := NewHandlers(&fakeRecorder{}, &fakeCreds{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rr := httptest.NewRecorder()
	newTestMux(t, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandlers(&fakeRecorder{}, &fakeCreds{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	newTestMux(t, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}
