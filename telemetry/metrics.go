// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup,
// and correlation-id aware logging helpers for the archiver.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SessionsOpened prometheus.Counter
	Reconnects     *prometheus.CounterVec // by trigger reason
	BatchesLogged  prometheus.Counter
	MessagesLogged prometheus.Counter
	Heartbeats     prometheus.Counter
	TokenRefreshes *prometheus.CounterVec // by outcome

	// Histograms (seconds)
	AppendDuration    prometheus.Observer
	PageFetchDuration prometheus.Observer
	ResolveDuration   prometheus.Observer

	// Gauges
	SessionStateGauge  prometheus.Gauge
	LastBatchTimestamp prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_sessions_opened_total", Help: "Number of chat sessions successfully opened"})
		Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_reconnects_total", Help: "Reconnects scheduled, by trigger (connect_error, transport_error, end_of_stream)"}, []string{"reason"})
		BatchesLogged = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_batches_logged_total", Help: "Non-empty batches appended to the resume log"})
		MessagesLogged = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_messages_logged_total", Help: "Chat messages appended to the resume log"})
		Heartbeats = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_heartbeats_total", Help: "Empty batches received (page token advanced, nothing persisted)"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_token_refreshes_total", Help: "OAuth token refresh attempts, by outcome (ok, error)"}, []string{"outcome"})
		AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_log_append_duration_seconds", Help: "Resume log append+fsync duration seconds", Buckets: prometheus.DefBuckets})
		PageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_page_fetch_duration_seconds", Help: "liveChatMessages.list call duration seconds", Buckets: prometheus.DefBuckets})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_resolve_duration_seconds", Help: "videos.list chat id resolution duration seconds", Buckets: prometheus.DefBuckets})
		SessionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_session_state", Help: "Recorder state: 0=disconnected 1=connected 2=reconnect_pending 3=terminated"})
		LastBatchTimestamp = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_last_batch_timestamp_seconds", Help: "Unix time of the last batch appended to the resume log"})
	})
}

// RecordSessionOpened counts a successful session open.
func RecordSessionOpened() {
	if SessionsOpened != nil {
		SessionsOpened.Inc()
	}
}

// RecordReconnect counts a scheduled reconnect by trigger reason.
func RecordReconnect(reason string) {
	if Reconnects != nil {
		Reconnects.WithLabelValues(reason).Inc()
	}
}

// RecordBatchLogged counts one appended batch and its messages.
func RecordBatchLogged(items int) {
	if BatchesLogged != nil {
		BatchesLogged.Inc()
		MessagesLogged.Add(float64(items))
		LastBatchTimestamp.SetToCurrentTime()
	}
}

// RecordHeartbeat counts an empty batch.
func RecordHeartbeat() {
	if Heartbeats != nil {
		Heartbeats.Inc()
	}
}

// RecordTokenRefresh counts a token refresh attempt ("ok" or "error").
func RecordTokenRefresh(outcome string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}

// SetSessionState publishes the recorder state as a gauge value.
func SetSessionState(state int) {
	if SessionStateGauge != nil {
		SessionStateGauge.Set(float64(state))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
