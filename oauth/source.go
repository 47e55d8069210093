package oauth

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/telemetry"
	"github.com/onnwee/livechat-archiver/youtubeapi"
)

// StaticKey serves a fixed API key.
type StaticKey string

// Credential implements youtubeapi.CredentialSource.
func (k StaticKey) Credential(context.Context) (youtubeapi.Credential, error) {
	return youtubeapi.Credential{APIKey: string(k)}, nil
}

// KeyFile re-reads an API key file on every call, so a key rotated on disk is
// picked up by the next session open without a restart.
type KeyFile string

// Credential implements youtubeapi.CredentialSource.
func (f KeyFile) Credential(context.Context) (youtubeapi.Credential, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return youtubeapi.Credential{}, feed.NewError(feed.KindConfig, "oauth.keyfile", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return youtubeapi.Credential{}, feed.Errorf(feed.KindConfig, "oauth.keyfile", "key file %s is empty", string(f))
	}
	return youtubeapi.Credential{APIKey: key}, nil
}

const defaultExpirySkew = 60 * time.Second

// TokenSource loads the persisted OAuth token on every call and refreshes it
// when less than Skew remains before expiry, persisting the rotated token.
// Loading per call means a session opened after an external re-authorization
// immediately uses the new token.
type TokenSource struct {
	Store  *FileStore
	Config *oauth2.Config
	// Skew is how close to expiry a token may get before it is refreshed
	// eagerly. Zero means 60s.
	Skew time.Duration
}

// Credential implements youtubeapi.CredentialSource.
func (s *TokenSource) Credential(ctx context.Context) (youtubeapi.Credential, error) {
	tok, err := s.Store.Load()
	if err != nil {
		return youtubeapi.Credential{}, feed.NewError(feed.KindConfig, "oauth.token", err)
	}
	skew := s.Skew
	if skew <= 0 {
		skew = defaultExpirySkew
	}
	// A zero expiry means the provider never told us; treat it as valid.
	if tok.Expiry.IsZero() || time.Until(tok.Expiry) > skew {
		return youtubeapi.Credential{Token: tok}, nil
	}
	if tok.RefreshToken == "" {
		return youtubeapi.Credential{}, feed.Errorf(feed.KindConfig, "oauth.token",
			"token expired with no refresh token; re-run authorization")
	}

	fresh, err := s.Config.TokenSource(ctx, tok).Token()
	if err != nil {
		telemetry.RecordTokenRefresh("error")
		return youtubeapi.Credential{}, feed.NewError(feed.KindTransport, "oauth.refresh", err)
	}
	telemetry.RecordTokenRefresh("ok")
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := s.Store.Save(fresh); err != nil {
		// The fresh token is still good for this open; losing the persist
		// only costs an extra refresh next time.
		slog.Warn("persist refreshed token failed", slog.String("path", s.Store.Path), slog.Any("err", err))
	}
	return youtubeapi.Credential{Token: fresh}, nil
}
