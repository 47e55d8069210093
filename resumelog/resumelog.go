// Package resumelog persists delivered chat batches as an append-only JSONL
// file and recovers the resume cursor from it after a restart. Each line is
// one serialized feed.Batch. The last well-formed line is authoritative for
// recovery: its nextPageToken plus the liveChatId embedded in its first item
// reconstruct the cursor to reconnect with. The file is never rewritten in
// place, and a single process must own it at a time; no cross-process
// locking is provided.
package resumelog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/onnwee/livechat-archiver/feed"
)

// A page of 2000 messages serializes to a few MB, so recovery scans with a
// generous line cap.
const (
	scanBufCap   = 256 * 1024
	maxLineBytes = 16 * 1024 * 1024
)

// Log is the append-only batch store. Append fsyncs before returning, so a
// crash after a successful Append never loses that batch.
type Log struct {
	path string
	f    *os.File
}

// Open creates parent directories as needed and opens the log for appending.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, feed.NewError(feed.KindIO, "resumelog.open", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, feed.NewError(feed.KindIO, "resumelog.open", err)
	}
	return &Log{path: path, f: f}, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string { return l.path }

// Append writes one batch as a single JSON line and flushes it to disk.
func (l *Log) Append(b *feed.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return feed.NewError(feed.KindIO, "resumelog.append", err)
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return feed.NewError(feed.KindIO, "resumelog.append", err)
	}
	if err := l.f.Sync(); err != nil {
		return feed.NewError(feed.KindIO, "resumelog.append", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	return l.f.Close()
}

// record carries just the fields recovery reads from a serialized batch.
type record struct {
	Items []struct {
		Snippet struct {
			LiveChatID string `json:"liveChatId"`
		} `json:"snippet"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// RecoverLast scans the log and returns the cursor implied by the final
// well-formed line. An absent file is an empty log, not an error: it returns
// ok=false with a nil error. Blank lines, malformed lines, and a torn final
// line (crash mid-append) are skipped; ok is false when no line qualifies.
func RecoverLast(path string) (feed.Cursor, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return feed.Cursor{}, false, nil
		}
		return feed.Cursor{}, false, feed.NewError(feed.KindIO, "resumelog.recover", err)
	}
	defer f.Close()

	var (
		cur   feed.Cursor
		found bool
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, scanBufCap), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if len(rec.Items) == 0 || rec.Items[0].Snippet.LiveChatID == "" {
			continue
		}
		cur = feed.Cursor{LiveChatID: rec.Items[0].Snippet.LiveChatID, PageToken: rec.NextPageToken}
		found = true
	}
	if err := sc.Err(); err != nil {
		return feed.Cursor{}, false, feed.NewError(feed.KindIO, "resumelog.recover", err)
	}
	return cur, found, nil
}
