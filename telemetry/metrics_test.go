package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := MessagesSent
	Init()
	if MessagesSent != first {
		t.Error("Init re-registered metrics")
	}
	if RecordsSkipped == nil || BatchDuration == nil || ConnectionUp == nil {
		t.Error("metrics not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(MessagesSent)
	IncCounter(MessagesSent)
	if got := testutil.ToFloat64(MessagesSent); got != before+1 {
		t.Errorf("MessagesSent = %v, want %v", got, before+1)
	}

	skipped := RecordsSkipped.WithLabelValues(SkipMalformed)
	before = testutil.ToFloat64(skipped)
	IncSkipped(SkipMalformed)
	if got := testutil.ToFloat64(skipped); got != before+1 {
		t.Errorf("skipped{malformed} = %v, want %v", got, before+1)
	}

	// nil counters are ignored
	IncCounter(nil)
}

func TestGauges(t *testing.T) {
	Init()
	SetConnectionUp(true)
	if got := testutil.ToFloat64(ConnectionUp); got != 1 {
		t.Errorf("ConnectionUp = %v, want 1", got)
	}
	SetConnectionUp(false)
	if got := testutil.ToFloat64(ConnectionUp); got != 0 {
		t.Errorf("ConnectionUp = %v, want 0", got)
	}
	SetChannelsJoined(3)
	if got := testutil.ToFloat64(ChannelsJoined); got != 3 {
		t.Errorf("ChannelsJoined = %v, want 3", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", d)
	}
	if n := testutil.CollectAndCount(h); n != 1 {
		t.Errorf("histogram collected %d metrics, want 1", n)
	}
	// nil observer is allowed
	TimeFunc(nil, func() {})
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("unexpected correlation on empty context")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("GetCorrelation() = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

func TestTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("irc-relay", "test")
	if err != nil {
		t.Fatalf("InitTracing() error: %v", err)
	}
	if TracingEnabled() {
		t.Error("TracingEnabled() = true without endpoint")
	}
	shutdown()

	// Spans still work against the no-op provider.
	_, span := StartSpan(WithCorrelation(context.Background(), "abc"), "test")
	EndSpan(span, errors.New("boom"))
}

func TestTracingEnabledFollowsProvider(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "127.0.0.1:4317")
	shutdown, err := InitTracing("irc-relay", "test")
	if err != nil {
		t.Fatalf("InitTracing() error: %v", err)
	}
	if !TracingEnabled() {
		t.Error("TracingEnabled() = false with endpoint")
	}
	shutdown()
	if TracingEnabled() {
		t.Error("TracingEnabled() = true after shutdown")
	}
}
