package youtubeapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/telemetry"
)

// defaultPollInterval paces list calls when the server omits
// pollingIntervalMillis.
const defaultPollInterval = 2 * time.Second

// Session is one open run of liveChatMessages.list long-polling. It owns its
// HTTP client (and therefore its connections) and tracks the page token
// internally; each Next suspends until the polling interval from the
// previous page has elapsed, then fetches the next page.
//
// Not safe for concurrent use. The manager drives one session at a time.
type Session struct {
	svc        *yt.Service
	hc         *http.Client
	chatID     string
	pageToken  string
	maxResults int64
	nextFetch  time.Time
	closed     bool
}

// Open fetches a fresh credential and establishes a session at the given
// cursor. An empty PageToken starts from the oldest page the server still
// retains; a non-empty one continues where a previous session left off. All
// failures are connect-kind errors so the caller can schedule a retry.
func (c *Client) Open(ctx context.Context, cur feed.Cursor) (*Session, error) {
	if cur.LiveChatID == "" {
		return nil, feed.Errorf(feed.KindConnect, "youtube.open", "empty live chat id")
	}
	svc, hc, err := c.service(ctx)
	if err != nil {
		return nil, feed.NewError(feed.KindConnect, "youtube.open", err)
	}
	telemetry.RecordSessionOpened()
	return &Session{
		svc:        svc,
		hc:         hc,
		chatID:     cur.LiveChatID,
		pageToken:  cur.PageToken,
		maxResults: c.MaxResults,
	}, nil
}

// Next returns the next page of chat messages, empty or not. It returns
// io.EOF when the server reports the chat has ended and a transport-kind
// error for anything else that fails mid-stream. Cancellation is checked
// before any waiting or network activity and wins over both.
func (s *Session) Next(ctx context.Context) (*feed.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if wait := time.Until(s.nextFetch); wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	call := s.svc.LiveChatMessages.List(s.chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if s.maxResults > 0 {
		call = call.MaxResults(s.maxResults)
	}
	if s.pageToken != "" {
		call = call.PageToken(s.pageToken)
	}
	var resp *yt.LiveChatMessageListResponse
	var err error
	telemetry.TimeFunc(telemetry.PageFetchDuration, func() {
		resp, err = call.Do()
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if chatEnded(err) {
			return nil, io.EOF
		}
		return nil, feed.NewError(feed.KindTransport, "youtube.next", err)
	}

	// The API can also end a chat politely: an offline marker on an empty
	// page instead of a failed call.
	if resp.OfflineAt != "" && len(resp.Items) == 0 {
		return nil, io.EOF
	}

	interval := defaultPollInterval
	if resp.PollingIntervalMillis > 0 {
		interval = time.Duration(resp.PollingIntervalMillis) * time.Millisecond
	}
	s.nextFetch = time.Now().Add(interval)
	s.pageToken = resp.NextPageToken

	return &feed.Batch{Items: resp.Items, NextPageToken: resp.NextPageToken}, nil
}

// chatEnded reports whether an API error means the chat is gone rather than
// a transient failure. The Data API signals the end of a live chat by
// failing the list call with one of these reasons.
func chatEnded(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "liveChatEnded", "liveChatNotFound", "liveChatDisabled":
			return true
		}
	}
	return false
}

// Close releases the session's connections. Safe to call more than once.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.hc.CloseIdleConnections()
}
