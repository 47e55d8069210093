// Package main provides a CLI tool to authorize the archiver against a
// Google account without a running daemon.
//
// It prints the consent URL, runs a temporary local HTTP server on the
// redirect address, exchanges the authorization code (with PKCE), and saves
// the resulting token to the configured token file.
//
// Usage:
//
//	authorize [--timeout DURATION]
//
// Flags:
//
//	--timeout: how long to wait for the browser consent (default 5m)
//
// Environment Variables:
//
//	YT_CLIENT_ID, YT_CLIENT_SECRET: OAuth client (required)
//	YT_REDIRECT_URI: redirect registered on the client; the tool listens on
//	  its host:port (default http://localhost:8080/oauth2callback)
//	YT_TOKEN_FILE: where to save the token (default data/youtube_token.json)
//	ENCRYPTION_KEY: base64 32-byte key to encrypt the token file (optional)
//
// Example:
//
//	export YT_CLIENT_ID=... YT_CLIENT_SECRET=...
//	./authorize
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/config"
	"github.com/onnwee/livechat-archiver/crypto"
	"github.com/onnwee/livechat-archiver/oauth"
)

const successPage = `<!doctype html>
<html><body>
<h1>Authorization complete</h1>
<p>The token has been saved. You can close this tab and return to the terminal.</p>
</body></html>`

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "how long to wait for the browser consent")
	flag.Parse()

	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if !cfg.OAuthEnabled() {
		slog.Error("YT_CLIENT_ID and YT_CLIENT_SECRET are required")
		os.Exit(1)
	}

	store := &oauth.FileStore{Path: cfg.TokenFile}
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to initialize encryptor", slog.Any("error", err))
			os.Exit(1)
		}
		store.Enc = enc
	}

	redirect, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		slog.Error("invalid YT_REDIRECT_URI", slog.Any("error", err))
		os.Exit(1)
	}
	if redirect.Port() == "" {
		slog.Error("YT_REDIRECT_URI must carry an explicit port for the local callback server",
			slog.String("redirect_uri", cfg.RedirectURI))
		os.Exit(1)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	oauthCfg := oauth.NewClientConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, cfg.Scopes)
	verifier := oauth2.GenerateVerifier()
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("state generation failed", slog.Any("error", err))
		os.Exit(1)
	}
	state := hex.EncodeToString(b)

	done := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, callbackHandler(oauthCfg, store, state, verifier, done))

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		slog.Error("cannot listen on redirect address",
			slog.String("addr", redirect.Host), slog.Any("error", err))
		os.Exit(1)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("callback server error", slog.Any("error", err))
		}
	}()
	defer srv.Close() //nolint:errcheck // process is exiting

	fmt.Printf("\nOpen this URL in your browser to authorize:\n\n  %s\n\n", oauth.AuthCodeURL(oauthCfg, state, verifier))
	slog.Info("waiting for authorization",
		slog.String("redirect_uri", cfg.RedirectURI),
		slog.Duration("timeout", *timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("authorization failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("token saved", slog.String("path", cfg.TokenFile))
	case <-time.After(*timeout):
		slog.Error("timed out waiting for authorization")
		os.Exit(1)
	case <-ctx.Done():
		slog.Error("interrupted")
		os.Exit(1)
	}
}

// callbackHandler validates the redirect, exchanges the code with the PKCE
// verifier, and persists the token. The first outcome wins; repeat requests
// (a browser refresh of the result page) are answered but not reported.
func callbackHandler(oauthCfg *oauth2.Config, store *oauth.FileStore, state, verifier string, done chan<- error) http.HandlerFunc {
	report := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "authorization denied: "+errCode, http.StatusBadRequest)
			report(fmt.Errorf("authorization denied: %s", errCode))
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			report(fmt.Errorf("state mismatch"))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			report(fmt.Errorf("redirect carried no code"))
			return
		}
		tok, err := oauth.Exchange(r.Context(), oauthCfg, code, verifier)
		if err != nil {
			http.Error(w, "code exchange failed", http.StatusInternalServerError)
			report(fmt.Errorf("code exchange: %w", err))
			return
		}
		if err := store.Save(tok); err != nil {
			http.Error(w, "token persist failed", http.StatusInternalServerError)
			report(fmt.Errorf("persist token: %w", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, successPage)
		report(nil)
	}
}
