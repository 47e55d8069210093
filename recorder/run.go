package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/onnwee/livechat-archiver/feed"
	"github.com/onnwee/livechat-archiver/telemetry"
)

// Run drives the session lifecycle from the starting cursor until ctx is
// cancelled or the batch log fails. Cancellation is checked before every
// transition, so it preempts pending batches, open attempts, and reconnect
// waits alike; Run returns nil on cancellation. A log append failure is the
// only error path: nothing can be consumed safely once persistence is gone,
// so Run closes the session and returns the wrapped error.
func (m *Manager) Run(ctx context.Context, start feed.Cursor) error {
	cur := start
	m.update(func(s *Snapshot) { s.Cursor = cur })

	var sess Session
	state := StateDisconnected
	m.setState(state)
	var retryAt time.Time

	defer func() {
		if sess != nil {
			sess.Close()
		}
		m.setState(StateTerminated)
	}()

	for {
		if ctx.Err() != nil {
			slog.Info("recorder stopping", slog.String("state", state.String()))
			return nil
		}

		switch state {
		case StateDisconnected:
			s, err := m.opener.Open(ctx, cur)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.Warn("session open failed", slog.String("live_chat_id", cur.LiveChatID), slog.Any("error", err))
				telemetry.RecordReconnect("connect_error")
				retryAt = time.Now().Add(m.wait)
				state = StateReconnectPending
				m.update(func(sn *Snapshot) {
					sn.State = state
					sn.RetryAt = retryAt
					sn.Reconnects++
				})
				telemetry.SetSessionState(int(state))
				continue
			}
			sess = s
			state = StateConnected
			connectedAt := time.Now()
			m.update(func(sn *Snapshot) {
				sn.State = state
				sn.ConnectedAt = connectedAt
				sn.RetryAt = time.Time{}
			})
			telemetry.SetSessionState(int(state))
			slog.Info("session connected",
				slog.String("live_chat_id", cur.LiveChatID),
				slog.Bool("resumed", cur.PageToken != ""))

		case StateConnected:
			batch, err := sess.Next(ctx)
			if ctx.Err() != nil {
				// Cancellation wins over anything Next returned; a
				// batch delivered alongside it is never persisted.
				continue
			}
			if err != nil {
				sess.Close()
				sess = nil
				reason := "transport_error"
				if errors.Is(err, io.EOF) {
					reason = "end_of_stream"
					slog.Info("chat ended", slog.String("live_chat_id", cur.LiveChatID))
				} else {
					slog.Warn("session failed", slog.String("live_chat_id", cur.LiveChatID), slog.Any("error", err))
				}
				telemetry.RecordReconnect(reason)
				retryAt = time.Now().Add(m.wait)
				state = StateReconnectPending
				m.update(func(sn *Snapshot) {
					sn.State = state
					sn.RetryAt = retryAt
					sn.Reconnects++
				})
				telemetry.SetSessionState(int(state))
				continue
			}

			if !batch.Empty() {
				// Log before advancing the cursor. If the process dies
				// between append and advance we replay the page, which
				// at-least-once delivery allows.
				var aerr error
				telemetry.TimeFunc(telemetry.AppendDuration, func() {
					aerr = m.log.Append(batch)
				})
				if aerr != nil {
					sess.Close()
					sess = nil
					return fmt.Errorf("persist batch: %w", aerr)
				}
				n := len(batch.Items)
				telemetry.RecordBatchLogged(n)
				loggedAt := time.Now()
				m.update(func(sn *Snapshot) {
					sn.BatchesLogged++
					sn.MessagesLogged += int64(n)
					sn.LastBatchAt = loggedAt
				})
			} else {
				telemetry.RecordHeartbeat()
				m.update(func(sn *Snapshot) { sn.Heartbeats++ })
			}

			// Empty or not, the page token moves forward.
			cur.PageToken = batch.NextPageToken
			m.update(func(sn *Snapshot) { sn.Cursor = cur })

		case StateReconnectPending:
			select {
			case <-ctx.Done():
				continue
			case <-time.After(time.Until(retryAt)):
				state = StateDisconnected
				m.setState(state)
				slog.Info("reconnecting", slog.String("live_chat_id", cur.LiveChatID), slog.String("page_token", cur.PageToken))
			}
		}
	}
}
