package recorder

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/resumelog"
)

func newBatch(chatID, token string, ids ...string) *feed.Batch {
	items := make([]*yt.LiveChatMessage, 0, len(ids))
	for _, id := range ids {
		items = append(items, &yt.LiveChatMessage{
			Id: id,
			Snippet: &yt.LiveChatMessageSnippet{
				LiveChatId:     chatID,
				DisplayMessage: "msg " + id,
			},
		})
	}
	return &feed.Batch{Items: items, NextPageToken: token}
}

type scriptEvent struct {
	batch *feed.Batch
	err   error
}

// scriptedSession returns its events in order; once drained it behaves like a
// quiet chat and blocks until the caller cancels.
type scriptedSession struct {
	mu     sync.Mutex
	events []scriptEvent
	idx    int
	closed atomic.Bool
}

func (s *scriptedSession) Next(ctx context.Context) (*feed.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.idx < len(s.events) {
		ev := s.events[s.idx]
		s.idx++
		s.mu.Unlock()
		return ev.batch, ev.err
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSession) Close() { s.closed.Store(true) }

type openResult struct {
	sess Session
	err  error
}

// scriptedOpener hands out sessions in order and records every cursor it was
// asked to open from.
type scriptedOpener struct {
	mu      sync.Mutex
	results []openResult
	idx     int
	cursors []feed.Cursor
}

func (o *scriptedOpener) Open(_ context.Context, cur feed.Cursor) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cursors = append(o.cursors, cur)
	if o.idx >= len(o.results) {
		return nil, errors.New("opener script exhausted")
	}
	r := o.results[o.idx]
	o.idx++
	return r.sess, r.err
}

func (o *scriptedOpener) openCursors() []feed.Cursor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]feed.Cursor(nil), o.cursors...)
}

func (o *scriptedOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.cursors)
}

type memoryLog struct {
	mu      sync.Mutex
	batches []*feed.Batch
	failErr error
}

func (l *memoryLog) Append(b *feed.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	cp := *b
	l.batches = append(l.batches, &cp)
	return nil
}

func (l *memoryLog) tokens() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.batches))
	for _, b := range l.batches {
		out = append(out, b.NextPageToken)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startRun launches Run in the background and returns a channel carrying its
// result plus a helper that cancels and asserts a clean shutdown.
func startRun(t *testing.T, m *Manager, cur feed.Cursor) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, cur) }()
	t.Cleanup(cancel)
	return cancel, done
}

func assertCleanStop(t *testing.T, cancel context.CancelFunc, done chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnected, "connected"},
		{StateReconnectPending, "reconnect_pending"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewDefaultsReconnectWait(t *testing.T) {
	if m := New(nil, nil, Config{}); m.wait != defaultReconnectWait {
		t.Errorf("zero config wait = %v, want %v", m.wait, defaultReconnectWait)
	}
	if m := New(nil, nil, Config{ReconnectWait: time.Second}); m.wait != time.Second {
		t.Errorf("explicit wait = %v, want 1s", m.wait)
	}
}

// TestRunSurvivesFailuresWithoutLosingBatches walks the loop through a
// transport failure and an end-of-stream, checking that every non-empty batch
// lands in the log exactly once and that each reconnect resumes from the last
// logged token.
func TestRunSurvivesFailuresWithoutLosingBatches(t *testing.T) {
	s1 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "t1", "m1")},
		{batch: newBatch("chat-1", "t2", "m2", "m3")},
		{err: errors.New("connection reset")},
	}}
	s2 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "t3", "m4")},
		{err: io.EOF},
	}}
	s3 := &scriptedSession{}
	opener := &scriptedOpener{results: []openResult{{sess: s1}, {sess: s2}, {sess: s3}}}
	log := &memoryLog{}
	m := New(opener, log, Config{ReconnectWait: time.Millisecond})

	cancel, done := startRun(t, m, feed.Cursor{LiveChatID: "chat-1"})
	waitFor(t, func() bool { return opener.openCount() == 3 }, "third session open")

	got := log.tokens()
	want := []string{"t1", "t2", "t3"}
	if len(got) != len(want) {
		t.Fatalf("logged tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("logged tokens = %v, want %v", got, want)
		}
	}

	cursors := opener.openCursors()
	wantTokens := []string{"", "t2", "t3"}
	for i, c := range cursors {
		if c.LiveChatID != "chat-1" {
			t.Errorf("open %d chat id = %q, want chat-1", i, c.LiveChatID)
		}
		if c.PageToken != wantTokens[i] {
			t.Errorf("open %d resumed from %q, want %q", i, c.PageToken, wantTokens[i])
		}
	}

	if !s1.closed.Load() || !s2.closed.Load() {
		t.Error("failed sessions must be closed before reconnecting")
	}

	assertCleanStop(t, cancel, done)
	if snap := m.Snapshot(); snap.State != StateTerminated {
		t.Errorf("final state = %v, want terminated", snap.State)
	}
}

// TestRunHeartbeatAdvancesTokenWithoutPersisting checks the empty-batch rule:
// the page token moves forward so the next open resumes past it, but nothing
// is written to the log.
func TestRunHeartbeatAdvancesTokenWithoutPersisting(t *testing.T) {
	s1 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "a", "m1")},
		{batch: &feed.Batch{NextPageToken: "b"}},
		{err: errors.New("connection reset")},
	}}
	s2 := &scriptedSession{}
	opener := &scriptedOpener{results: []openResult{{sess: s1}, {sess: s2}}}
	log := &memoryLog{}
	m := New(opener, log, Config{ReconnectWait: time.Millisecond})

	cancel, done := startRun(t, m, feed.Cursor{LiveChatID: "chat-1"})
	waitFor(t, func() bool { return opener.openCount() == 2 }, "second session open")

	if got := log.tokens(); len(got) != 1 || got[0] != "a" {
		t.Errorf("logged tokens = %v, want only [a] (heartbeats never persisted)", got)
	}
	if cursors := opener.openCursors(); cursors[1].PageToken != "b" {
		t.Errorf("reconnect resumed from %q, want heartbeat token b", cursors[1].PageToken)
	}

	snap := m.Snapshot()
	if snap.Heartbeats != 1 {
		t.Errorf("heartbeats = %d, want 1", snap.Heartbeats)
	}
	if snap.BatchesLogged != 1 || snap.MessagesLogged != 1 {
		t.Errorf("counters = %d batches / %d messages, want 1/1", snap.BatchesLogged, snap.MessagesLogged)
	}

	assertCleanStop(t, cancel, done)
}

// TestRunRetriesAfterOpenFailure checks that a failed connection attempt
// schedules a retry from the unchanged cursor.
func TestRunRetriesAfterOpenFailure(t *testing.T) {
	s2 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "x", "m1")},
	}}
	opener := &scriptedOpener{results: []openResult{
		{err: errors.New("dial tcp: connection refused")},
		{sess: s2},
	}}
	log := &memoryLog{}
	m := New(opener, log, Config{ReconnectWait: time.Millisecond})

	cancel, done := startRun(t, m, feed.Cursor{LiveChatID: "chat-1"})
	waitFor(t, func() bool { return len(log.tokens()) == 1 }, "batch from second attempt")

	cursors := opener.openCursors()
	if len(cursors) != 2 {
		t.Fatalf("open attempts = %d, want 2", len(cursors))
	}
	for i, c := range cursors {
		if c.PageToken != "" {
			t.Errorf("open %d token = %q, want empty (open failure must not advance)", i, c.PageToken)
		}
	}
	if snap := m.Snapshot(); snap.Reconnects < 1 {
		t.Errorf("reconnects = %d, want >= 1", snap.Reconnects)
	}

	assertCleanStop(t, cancel, done)
}

// cancelThenDeliverSession cancels the run context during Next and then
// returns a batch anyway, forcing the loop to choose between the two.
type cancelThenDeliverSession struct {
	cancel context.CancelFunc
	closed atomic.Bool
}

func (s *cancelThenDeliverSession) Next(ctx context.Context) (*feed.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.cancel()
	return newBatch("chat-1", "tok", "m1"), nil
}

func (s *cancelThenDeliverSession) Close() { s.closed.Store(true) }

// TestRunCancellationBeatsDeliveredBatch pins down shutdown priority: a batch
// that arrives together with cancellation must not be persisted.
func TestRunCancellationBeatsDeliveredBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := &cancelThenDeliverSession{cancel: cancel}
	opener := &scriptedOpener{results: []openResult{{sess: sess}}}
	log := &memoryLog{}
	m := New(opener, log, Config{ReconnectWait: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, feed.Cursor{LiveChatID: "chat-1"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	if got := log.tokens(); len(got) != 0 {
		t.Errorf("logged tokens = %v, want none (cancellation wins over a delivered batch)", got)
	}
	snap := m.Snapshot()
	if snap.Cursor.PageToken != "" {
		t.Errorf("cursor advanced to %q after cancellation", snap.Cursor.PageToken)
	}
	if snap.State != StateTerminated {
		t.Errorf("final state = %v, want terminated", snap.State)
	}
	if !sess.closed.Load() {
		t.Error("session left open after shutdown")
	}
}

// TestRunCancelDuringReconnectWait checks that shutdown latency does not
// depend on the configured reconnect delay.
func TestRunCancelDuringReconnectWait(t *testing.T) {
	s1 := &scriptedSession{events: []scriptEvent{
		{err: errors.New("network is unreachable")},
	}}
	opener := &scriptedOpener{results: []openResult{{sess: s1}}}
	m := New(opener, &memoryLog{}, Config{ReconnectWait: time.Hour})

	cancel, done := startRun(t, m, feed.Cursor{LiveChatID: "chat-1"})
	waitFor(t, func() bool { return m.Snapshot().State == StateReconnectPending }, "reconnect_pending state")

	if snap := m.Snapshot(); snap.RetryAt.IsZero() {
		t.Error("RetryAt not set while waiting to reconnect")
	}

	assertCleanStop(t, cancel, done)
}

// TestRunStopsWhenLogFails checks that a persistence failure terminates the
// run with the append error rather than consuming past it.
func TestRunStopsWhenLogFails(t *testing.T) {
	s1 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "t1", "m1")},
	}}
	opener := &scriptedOpener{results: []openResult{{sess: s1}}}
	log := &memoryLog{failErr: feed.NewError(feed.KindIO, "resumelog.append", errors.New("disk full"))}
	m := New(opener, log, Config{ReconnectWait: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, feed.Cursor{LiveChatID: "chat-1"}) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after append failure")
	}
	if err == nil {
		t.Fatal("Run() = nil, want append error")
	}
	if !feed.IsKind(err, feed.KindIO) {
		t.Errorf("Run() error kind = %v, want io: %v", feed.KindOf(err), err)
	}
	if opener.openCount() != 1 {
		t.Errorf("open attempts after log failure = %d, want 1 (no reconnect)", opener.openCount())
	}
	snap := m.Snapshot()
	if snap.Cursor.PageToken != "" {
		t.Errorf("cursor advanced to %q past an unlogged batch", snap.Cursor.PageToken)
	}
	if snap.State != StateTerminated {
		t.Errorf("final state = %v, want terminated", snap.State)
	}
	if !s1.closed.Load() {
		t.Error("session left open after append failure")
	}
}

// TestRunWithResumeLog exercises the loop against the real append-only log
// and checks that recovery after shutdown lands on the last logged token.
func TestRunWithResumeLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	rl, err := resumelog.Open(path)
	if err != nil {
		t.Fatalf("resumelog.Open() error: %v", err)
	}
	t.Cleanup(func() { rl.Close() })

	s1 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "a", "m1")},
		{batch: &feed.Batch{NextPageToken: "b"}},
		{batch: newBatch("chat-1", "c", "m2")},
		{err: io.EOF},
	}}
	s2 := &scriptedSession{events: []scriptEvent{
		{batch: newBatch("chat-1", "d", "m3")},
	}}
	opener := &scriptedOpener{results: []openResult{{sess: s1}, {sess: s2}}}
	m := New(opener, rl, Config{ReconnectWait: time.Millisecond})

	cancel, done := startRun(t, m, feed.Cursor{LiveChatID: "chat-1"})
	waitFor(t, func() bool { return m.Snapshot().BatchesLogged == 3 }, "three logged batches")
	assertCleanStop(t, cancel, done)

	snap := m.Snapshot()
	if snap.MessagesLogged != 3 {
		t.Errorf("messages logged = %d, want 3", snap.MessagesLogged)
	}
	if snap.Heartbeats != 1 {
		t.Errorf("heartbeats = %d, want 1", snap.Heartbeats)
	}
	if snap.Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1 (end of stream)", snap.Reconnects)
	}
	if snap.ConnectedAt.IsZero() || snap.LastBatchAt.IsZero() {
		t.Error("ConnectedAt/LastBatchAt not recorded")
	}

	cursors := opener.openCursors()
	if len(cursors) != 2 || cursors[1].PageToken != "c" {
		t.Errorf("reconnect cursors = %+v, want second open from token c", cursors)
	}

	cur, ok, err := resumelog.RecoverLast(path)
	if err != nil || !ok {
		t.Fatalf("RecoverLast() ok=%v err=%v", ok, err)
	}
	if cur.LiveChatID != "chat-1" || cur.PageToken != "d" {
		t.Errorf("recovered cursor = %+v, want chat-1/d", cur)
	}
}
