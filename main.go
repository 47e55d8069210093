// Command livechat-archiver records the live chat of a YouTube broadcast to
// an append-only JSONL log. It:
//   - Loads configuration and initializes structured logging.
//   - Resolves the broadcast's live chat id, or recovers the last logged
//     cursor when RESUME=1.
//   - Runs the recorder loop: poll, persist, reconnect until the stream
//     ends or the process is stopped.
//   - Refreshes the OAuth token in the background when OAuth is configured.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     /metrics, and the authorization endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/joho/godotenv"
	"github.com/onnwee/livechat-archiver/config"
	"github.com/onnwee/livechat-archiver/crypto"
	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/oauth"
	"github.com/onnwee/livechat-archiver/recorder"
	"github.com/onnwee/livechat-archiver/resumelog"
	"github.com/onnwee/livechat-archiver/server"
	"github.com/onnwee/livechat-archiver/telemetry"
	"github.com/onnwee/livechat-archiver/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBootstrap(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("livechat-archiver", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Credentials: an API key (inline first, then file) wins over OAuth.
	tokens, err := newTokenStore(cfg)
	if err != nil {
		slog.Error("token store setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	var oauthCfg *oauth2.Config
	if cfg.OAuthEnabled() {
		oauthCfg = oauth.NewClientConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, cfg.Scopes)
	}
	creds, err := credentialSource(cfg, tokens, oauthCfg)
	if err != nil {
		slog.Error("credential setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	client := &youtubeapi.Client{Source: creds, Endpoint: cfg.APIEndpoint, MaxResults: cfg.MaxResults}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rlog, err := resumelog.Open(cfg.LogFile)
	if err != nil {
		slog.Error("failed to open chat log", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := rlog.Close(); err != nil {
			slog.Error("failed to close chat log", slog.Any("err", err))
		}
	}()

	cur, err := bootstrapCursor(ctx, cfg, client)
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Centralized OAuth token refresher. A bare refresh token forces a real
	// grant round-trip instead of handing back the cached access token.
	if cfg.OAuthEnabled() {
		oauth.StartRefresher(ctx, tokens, 10*time.Minute, 20*time.Minute, func(rctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
			return oauthCfg.TokenSource(rctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
		})
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	mgr := recorder.New(recorder.OpenerFunc(func(octx context.Context, c feed.Cursor) (recorder.Session, error) {
		s, err := client.Open(octx, c)
		if err != nil {
			return nil, err
		}
		return s, nil
	}), rlog, recorder.Config{ReconnectWait: cfg.ReconnectWait})

	// HTTP server (health/status/metrics/auth)
	handlers := server.NewHandlers(mgr, creds, oauthCfg, tokens)
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, handlers); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("recorder starting",
		slog.String("live_chat_id", cur.LiveChatID),
		slog.Bool("resumed", cfg.Resume),
		slog.String("log_file", rlog.Path()))

	// The recorder is the foreground job; it returns nil on shutdown signal.
	if err := mgr.Run(ctx, cur); err != nil {
		slog.Error("recorder failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// newTokenStore builds the token file store, encrypting at rest when
// ENCRYPTION_KEY is set.
func newTokenStore(cfg *config.Config) (*oauth.FileStore, error) {
	store := &oauth.FileStore{Path: cfg.TokenFile}
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		store.Enc = enc
	}
	return store, nil
}

// credentialSource picks the credential strategy for the run.
func credentialSource(cfg *config.Config, tokens *oauth.FileStore, oauthCfg *oauth2.Config) (youtubeapi.CredentialSource, error) {
	switch {
	case cfg.APIKey != "":
		return oauth.StaticKey(cfg.APIKey), nil
	case cfg.APIKeyFile != "":
		return oauth.KeyFile(cfg.APIKeyFile), nil
	case oauthCfg != nil:
		return &oauth.TokenSource{Store: tokens, Config: oauthCfg}, nil
	}
	return nil, feed.Errorf(feed.KindConfig, "main.credentials", "no credentials: set YT_API_KEY, YT_API_KEY_FILE, or YT_CLIENT_ID/YT_CLIENT_SECRET")
}

// liveChatResolver is the slice of the YouTube client bootstrap needs.
type liveChatResolver interface {
	ResolveLiveChatID(ctx context.Context, videoID string) (string, error)
}

// bootstrapCursor decides where the recorder starts: the last logged cursor
// in resume mode, otherwise a fresh resolve of the video's live chat id.
func bootstrapCursor(ctx context.Context, cfg *config.Config, resolver liveChatResolver) (feed.Cursor, error) {
	if cfg.Resume {
		cur, ok, err := resumelog.RecoverLast(cfg.LogFile)
		if err != nil {
			return feed.Cursor{}, err
		}
		if !ok {
			return feed.Cursor{}, feed.Errorf(feed.KindConfig, "main.bootstrap", "resume requested but %s has no records", cfg.LogFile)
		}
		return cur, nil
	}
	chatID, err := resolver.ResolveLiveChatID(ctx, cfg.VideoID)
	if err != nil {
		return feed.Cursor{}, err
	}
	return feed.Cursor{LiveChatID: chatID}, nil
}
