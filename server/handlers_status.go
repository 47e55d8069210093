package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HandleStatus reports the recorder snapshot: lifecycle state, resume cursor,
// and delivery counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]any{}
	if h.rec != nil {
		snap := h.rec.Snapshot()
		resp["state"] = snap.State.String()
		resp["live_chat_id"] = snap.Cursor.LiveChatID
		resp["page_token"] = snap.Cursor.PageToken
		resp["batches_logged"] = snap.BatchesLogged
		resp["messages_logged"] = snap.MessagesLogged
		resp["heartbeats"] = snap.Heartbeats
		resp["reconnects"] = snap.Reconnects
		if !snap.ConnectedAt.IsZero() {
			resp["connected_at"] = snap.ConnectedAt.UTC().Format(time.RFC3339)
		}
		if !snap.LastBatchAt.IsZero() {
			resp["last_batch_at"] = snap.LastBatchAt.UTC().Format(time.RFC3339)
		}
		if !snap.RetryAt.IsZero() {
			resp["retry_at"] = snap.RetryAt.UTC().Format(time.RFC3339)
		}
	} else {
		resp["state"] = "not_running"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
