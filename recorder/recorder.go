// Package recorder drives the connect/consume/reconnect loop that keeps a
// live chat session flowing into the append-only batch log. The Manager owns
// the session lifecycle: it opens sessions through an Opener, consumes pages
// until the session fails or the chat ends, waits out a fixed reconnect
// delay, and reopens from the last known cursor. Batches are appended to the
// log before the in-memory cursor advances, so a crash between the two can
// only replay messages, never lose them.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/telemetry"
)

// State describes where the manager is in its session lifecycle.
type State int

const (
	// StateDisconnected means no session is open and a connection attempt
	// is due immediately.
	StateDisconnected State = iota
	// StateConnected means a session is open and pages are being consumed.
	StateConnected
	// StateReconnectPending means the last session failed and the manager
	// is waiting out the reconnect delay before trying again.
	StateReconnectPending
	// StateTerminated means the run loop has exited. It is absorbing; a
	// terminated manager never reconnects.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is a single open connection to a live chat feed. Next blocks until
// the next page is available, honoring any server-requested pacing, and
// returns io.EOF once the chat has ended.
type Session interface {
	Next(ctx context.Context) (*feed.Batch, error)
	Close()
}

// Opener establishes sessions. The manager calls Open with the cursor it
// wants to resume from; implementations fetch fresh credentials on every
// call so a session opened after a token rotation uses the new token.
type Opener interface {
	Open(ctx context.Context, cur feed.Cursor) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, cur feed.Cursor) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, cur feed.Cursor) (Session, error) {
	return f(ctx, cur)
}

// BatchLog persists batches durably. Append must not return until the batch
// is safe on disk.
type BatchLog interface {
	Append(b *feed.Batch) error
}

// Config holds the tunable knobs of the run loop.
type Config struct {
	// ReconnectWait is the fixed delay between a session failure and the
	// next connection attempt. Values <= 0 fall back to 5s.
	ReconnectWait time.Duration
}

const defaultReconnectWait = 5 * time.Second

// Snapshot is a point-in-time view of the manager for status reporting.
type Snapshot struct {
	State          State
	Cursor         feed.Cursor
	ConnectedAt    time.Time
	LastBatchAt    time.Time
	RetryAt        time.Time
	BatchesLogged  int64
	MessagesLogged int64
	Heartbeats     int64
	Reconnects     int64
}

// Manager runs the session lifecycle. Create one with New and drive it with
// Run; Snapshot may be called concurrently from other goroutines.
type Manager struct {
	opener Opener
	log    BatchLog
	wait   time.Duration

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a manager around an opener and a batch log.
func New(opener Opener, log BatchLog, cfg Config) *Manager {
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}
	return &Manager{opener: opener, log: log, wait: wait}
}

// Snapshot returns the current state, cursor, and counters.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.snap.State = s
	m.mu.Unlock()
	telemetry.SetSessionState(int(s))
}

func (m *Manager) update(fn func(*Snapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	m.mu.Unlock()
}
