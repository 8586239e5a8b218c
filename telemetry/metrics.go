// Package telemetry provides Prometheus metrics, OpenTelemetry spans and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons used as the "reason" label of RecordsSkipped.
const (
	SkipMalformed = "malformed"
	SkipNotJoined = "not_joined"
)

var (
	once sync.Once

	// Counters
	MessagesSent      prometheus.Counter
	RecordsSkipped    *prometheus.CounterVec
	BatchesDelivered  prometheus.Counter
	JoinFailures      prometheus.Counter
	CommitFailures    prometheus.Counter
	SourceRecords     prometheus.Counter
	SourceDropped     prometheus.Counter
	SourcePublishFail prometheus.Counter

	// Histograms (seconds)
	BatchDuration prometheus.Observer

	// Gauges
	ChannelsJoined prometheus.Gauge
	ConnectionUp   prometheus.Gauge // 1=connected,0=not
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_messages_sent_total", Help: "Chat messages sent for delivered records"})
		RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "irc_relay_records_skipped_total", Help: "Records skipped during delivery"}, []string{"reason"})
		BatchesDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_batches_total", Help: "Record batches handed to the relay task"})
		JoinFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_join_failures_total", Help: "Channel joins that failed during startup"})
		CommitFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_commit_failures_total", Help: "Kafka offset commits that failed"})
		SourceRecords = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_source_records_total", Help: "Chat messages converted into queue records"})
		SourceDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_source_dropped_total", Help: "Chat messages dropped because the source buffer was full"})
		SourcePublishFail = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_relay_source_publish_failures_total", Help: "Source record batches that could not be written to Kafka"})
		BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "irc_relay_batch_duration_seconds", Help: "Time spent delivering one record batch", Buckets: prometheus.DefBuckets})
		ChannelsJoined = promauto.NewGauge(prometheus.GaugeOpts{Name: "irc_relay_channels_joined", Help: "Channels currently joined"})
		ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{Name: "irc_relay_connection_up", Help: "Chat connection up=1 down=0"})
	})
}

// IncCounter increments c if metrics are initialized.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncSkipped counts a skipped record under reason.
func IncSkipped(reason string) {
	if RecordsSkipped != nil {
		RecordsSkipped.WithLabelValues(reason).Inc()
	}
}

// SetChannelsJoined records the number of joined channels.
func SetChannelsJoined(n int) {
	if ChannelsJoined != nil {
		ChannelsJoined.Set(float64(n))
	}
}

// SetConnectionUp sets the connection gauge to 1 if up else 0.
func SetConnectionUp(up bool) {
	if ConnectionUp != nil {
		if up {
			ConnectionUp.Set(1)
		} else {
			ConnectionUp.Set(0)
		}
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

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
