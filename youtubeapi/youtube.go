// Package youtubeapi wraps the YouTube Data API for live chat capture: it
// resolves a video's active live chat id and opens paginated long-poll
// sessions over liveChatMessages.list. Credentials come from the provided
// CredentialSource so API keys and OAuth tokens are interchangeable and may
// rotate between reconnects.
package youtubeapi

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/telemetry"
)

// Credential carries one of the two auth modes the Data API accepts. APIKey
// takes precedence when both are set.
type Credential struct {
	APIKey string
	Token  *oauth2.Token
}

// CredentialSource supplies the credential attached to each service build.
// Implementations may refresh or rotate between calls; callers must not
// cache the result across opens.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// Client builds authenticated YouTube services on demand. The zero value is
// not usable; Source must be set.
type Client struct {
	Source CredentialSource
	// Endpoint overrides the API base URL when non-empty. Tests point this
	// at a local mock server.
	Endpoint string
	// MaxResults caps messages per page; zero leaves the server default.
	MaxResults int64
}

// service builds a YouTube service around a freshly fetched credential. It
// is called once per resolve and once per session open, never cached, so a
// rotated key or refreshed token is picked up on the next reconnect.
func (c *Client) service(ctx context.Context) (*yt.Service, *http.Client, error) {
	cred, err := c.Source.Credential(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch credential: %w", err)
	}
	var rt http.RoundTripper
	switch {
	case cred.APIKey != "":
		rt = &transport.APIKey{Key: cred.APIKey, Transport: http.DefaultTransport}
	case cred.Token != nil:
		rt = &oauth2.Transport{Source: oauth2.StaticTokenSource(cred.Token), Base: http.DefaultTransport}
	default:
		return nil, nil, fmt.Errorf("credential source returned neither api key nor token")
	}
	hc := &http.Client{Transport: rt}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build youtube service: %w", err)
	}
	return svc, hc, nil
}

// ResolveLiveChatID looks up the active live chat attached to a video. It
// fails with a not_found kind when the video does not exist, not_live when
// the video has no active chat (ended, or never a broadcast), and transport
// for API failures. Callers treat all three as fatal; there is no retry
// loop at resolve time.
func (c *Client) ResolveLiveChatID(ctx context.Context, videoID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "youtubeapi", "resolve_live_chat_id",
		attribute.String("video_id", videoID))
	defer span.End()

	svc, hc, err := c.service(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", feed.NewError(feed.KindTransport, "youtube.resolve", err)
	}
	defer hc.CloseIdleConnections()

	var resp *yt.VideoListResponse
	telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		resp, err = svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", feed.NewError(feed.KindTransport, "youtube.resolve", err)
	}
	if len(resp.Items) == 0 {
		kerr := feed.Errorf(feed.KindNotFound, "youtube.resolve", "video %s not found", videoID)
		telemetry.RecordError(span, kerr)
		return "", kerr
	}
	details := resp.Items[0].LiveStreamingDetails
	if details == nil || details.ActiveLiveChatId == "" {
		kerr := feed.Errorf(feed.KindNotLive, "youtube.resolve", "video %s has no active live chat", videoID)
		telemetry.RecordError(span, kerr)
		return "", kerr
	}
	telemetry.SetSpanSuccess(span)
	return details.ActiveLiveChatId, nil
}
