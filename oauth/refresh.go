package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/telemetry"
)

// RefreshFunc performs the provider exchange for a fresh token.
type RefreshFunc func(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)

// StartRefresher launches a goroutine that periodically loads the persisted
// token and refreshes it when expiry falls within the window, persisting the
// rotated token. It complements the refresh-on-open in TokenSource: a long
// healthy session never reopens, so without this the stored token could age
// past its refresh horizon before the next reconnect.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store *FileStore, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Add per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			tok, err := store.Load()
			if err != nil {
				continue
			}
			if tok.RefreshToken == "" {
				continue
			}
			// Still outside the window, or no known expiry: skip quickly.
			if tok.Expiry.IsZero() || time.Until(tok.Expiry) > window {
				continue
			}
			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			fresh, err := fn(ctx2, tok)
			cancel()
			if err != nil {
				telemetry.RecordTokenRefresh("error")
				slog.Warn("token refresh failed", slog.Any("err", err))
				continue
			}
			if fresh.RefreshToken == "" {
				fresh.RefreshToken = tok.RefreshToken
			}
			if err := store.Save(fresh); err != nil {
				slog.Warn("token persist failed", slog.String("path", store.Path), slog.Any("err", err))
				continue
			}
			telemetry.RecordTokenRefresh("ok")
			slog.Info("token refreshed", slog.Time("expiry", fresh.Expiry))
		}
	}()
}
