package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/oauth"
)

// HandleOAuthStart initiates the YouTube authorization-code flow: it mints a
// state and PKCE verifier, remembers them for the callback, and redirects the
// browser to Google's consent page.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.oauthCfg == nil {
		http.Error(w, "oauth not configured (need YT_CLIENT_ID + YT_CLIENT_SECRET)", http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	verifier := oauth2.GenerateVerifier()
	h.addState(st, verifier, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, oauth.AuthCodeURL(h.oauthCfg, st, verifier), http.StatusFound)
}

// HandleOAuthCallback handles the redirect back from Google: it validates the
// state, exchanges the code with the stored PKCE verifier, and persists the
// token to the file store.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauthCfg == nil || h.tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	verifier, ok := h.takeState(st)
	if !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	tok, err := oauth.Exchange(r.Context(), h.oauthCfg, code, verifier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.tokens.Save(tok); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"access_token_present":  tok.AccessToken != "",
		"refresh_token_present": tok.RefreshToken != "",
	}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
