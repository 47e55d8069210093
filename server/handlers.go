// Package server exposes the HTTP API handlers.
package server

import (
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/oauth"
	"github.com/onnwee/livechat-archiver/recorder"
	"github.com/onnwee/livechat-archiver/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// RecorderStatus is the read-only view of the recorder the handlers need.
type RecorderStatus interface {
	Snapshot() recorder.Snapshot
}

// Handlers holds dependencies for all HTTP handlers. oauthCfg and tokens are
// nil when no OAuth client is configured; the authorization endpoints then
// answer 400.
type Handlers struct {
	rec      RecorderStatus
	creds    youtubeapi.CredentialSource
	oauthCfg *oauth2.Config
	tokens   *oauth.FileStore

	stateMu sync.Mutex
	states  map[string]oauthState
}

// oauthState pairs a pending flow's PKCE verifier with its expiry.
type oauthState struct {
	verifier string
	expires  time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(rec RecorderStatus, creds youtubeapi.CredentialSource, oauthCfg *oauth2.Config, tokens *oauth.FileStore) *Handlers {
	return &Handlers{
		rec:      rec,
		creds:    creds,
		oauthCfg: oauthCfg,
		tokens:   tokens,
		states:   make(map[string]oauthState),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, st := range h.states {
		if now.After(st.expires) {
			delete(h.states, state)
		}
	}
}

// addState records a pending OAuth flow with cleanup if needed.
func (h *Handlers) addState(state, verifier string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.states)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more.
	// Failing the flow beats a memory exhaustion attack.
	if len(h.states) >= maxOAuthStates {
		return
	}

	h.states[state] = oauthState{verifier: verifier, expires: expiry}
}

// takeState consumes a pending state and returns its verifier. Each state is
// single-use; expired or unknown states fail.
func (h *Handlers) takeState(state string) (string, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.states[state]
	if !ok {
		return "", false
	}
	delete(h.states, state)
	if time.Now().After(st.expires) {
		return "", false
	}
	return st.verifier, true
}
