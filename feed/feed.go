// Package feed defines the data model shared across the archiver: the
// pagination Cursor, the Batch unit delivered by the transport, and a closed
// error-kind taxonomy so callers branch on kind rather than message text.
// End-of-stream is not an error kind; transports return io.EOF when the
// server closes the feed.
package feed

import (
	yt "google.golang.org/api/youtube/v3"
)

// Cursor is the resumable position in a live chat feed: the chat id the
// process is bound to plus the opaque continuation token from the last
// server response. The chat id is immutable for the process lifetime once
// resolved; an empty PageToken means "start from the head of the feed".
type Cursor struct {
	LiveChatID string
	PageToken  string
}

// Batch is one server-delivered unit of chat messages plus the token for the
// next request. Items may be empty (a heartbeat): the token still counts as
// forward progress for reconnection, but heartbeats are never persisted.
// The JSON shape is a subset of the liveChatMessages.list response body, so
// a serialized Batch stays readable by tooling that understands the upstream
// wire format.
type Batch struct {
	Items         []*yt.LiveChatMessage `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

// Empty reports whether the batch is a heartbeat carrying no messages.
func (b *Batch) Empty() bool { return len(b.Items) == 0 }
