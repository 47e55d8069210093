package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockYouTubeServer creates a test server that mocks YouTube Data API responses
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockYouTubeServer creates a new mock YouTube API server
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockVideoResponse adds a handler for the videos.list endpoint returning one
// video with the given active live chat id (empty means not live)
func (m *MockYouTubeServer) MockVideoResponse(videoID, liveChatID string) {
	m.Handlers["/youtube/v3/videos"] = func(w http.ResponseWriter, r *http.Request) {
		details := map[string]interface{}{}
		if liveChatID != "" {
			details["activeLiveChatId"] = liveChatID
		}
		response := map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": videoID, "liveStreamingDetails": details},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockVideoNotFound adds a videos.list handler returning zero items
func (m *MockYouTubeServer) MockVideoNotFound() {
	m.Handlers["/youtube/v3/videos"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"items": []map[string]interface{}{},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockChatPage adds a handler for the liveChatMessages.list endpoint serving
// one fixed page
func (m *MockYouTubeServer) MockChatPage(items []map[string]interface{}, nextToken string, pollMillis int64) {
	m.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"items":                 items,
			"nextPageToken":         nextToken,
			"pollingIntervalMillis": pollMillis,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockChatOffline adds a liveChatMessages.list handler serving an empty page
// with an offlineAt marker, the way the API reports a broadcast that went
// offline without failing the call
func (m *MockYouTubeServer) MockChatOffline(offlineAt string) {
	m.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"items":                 []map[string]interface{}{},
			"offlineAt":             offlineAt,
			"pollingIntervalMillis": int64(1),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockChatEnded adds a liveChatMessages.list handler failing with the given
// API reason (e.g. liveChatEnded), the way the Data API signals a chat close
func (m *MockYouTubeServer) MockChatEnded(reason string) {
	m.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"error": map[string]interface{}{
				"code":    403,
				"message": "The live chat is no longer live.",
				"errors": []map[string]string{
					{"domain": "youtube.liveChat", "reason": reason, "message": "The live chat is no longer live."},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// ChatMessage builds one liveChatMessages.list item in wire shape
func ChatMessage(chatID, messageID, displayText string) map[string]interface{} {
	return map[string]interface{}{
		"id": messageID,
		"snippet": map[string]interface{}{
			"liveChatId":     chatID,
			"displayMessage": displayText,
		},
		"authorDetails": map[string]interface{}{
			"displayName": "viewer",
		},
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint. An
// empty refreshToken omits the field, the way Google does on re-grants.
func (m *MockYouTubeServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		if refreshToken != "" {
			response["refresh_token"] = refreshToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
