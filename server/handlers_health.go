package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/livechat-archiver/recorder"
)

// HandleHealthz responds to liveness probe requests. The process serving
// HTTP is the liveness signal; feed health belongs to readiness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks:
// the recorder must not have terminated and a credential must be obtainable.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"recorder", func() error {
			if h.rec == nil {
				return fmt.Errorf("recorder not running")
			}
			if snap := h.rec.Snapshot(); snap.State == recorder.StateTerminated {
				return fmt.Errorf("recorder terminated")
			}
			return nil
		}},
		{"credentials", func() error {
			if h.creds == nil {
				return fmt.Errorf("no credential source configured")
			}
			_, err := h.creds.Credential(r.Context())
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
