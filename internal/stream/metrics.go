package stream

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments this package publishes,
// grouped the way TLSMetricsCollector groups its instruments: connection
// counts, handshake outcomes, and the bootstrap protocol's win/reject
// tally.
type Metrics struct {
	ConnectionsActive   metric.Int64UpDownCounter
	HandshakeDuration   metric.Float64Histogram
	HandshakeFailures   metric.Int64Counter
	BootstrapAttempts   metric.Int64Counter
	BootstrapWins       metric.Int64Counter
	BootstrapRejections metric.Int64Counter
	RxWantStalls        metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// globalMetrics returns the process-wide Metrics instance, constructing it
// on first use against whatever MeterProvider is currently registered
// (a no-op provider unless the embedding program installs one;
// pkg/telemetry.SetupProvider installs only a tracer provider).
func globalMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = newMetrics()
	})
	return metricsInst
}

func newMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter("ofssl.stream")
	m := &Metrics{}

	m.ConnectionsActive, _ = meter.Int64UpDownCounter(
		"stream_connections_active",
		metric.WithDescription("Number of open TLS streams"),
		metric.WithUnit("{connection}"),
	)
	m.HandshakeDuration, _ = meter.Float64Histogram(
		"stream_handshake_duration_seconds",
		metric.WithDescription("Time from TLS handshake start to OPEN"),
		metric.WithUnit("s"),
	)
	m.HandshakeFailures, _ = meter.Int64Counter(
		"stream_handshake_failures_total",
		metric.WithDescription("Handshake or syscall failures during connect"),
		metric.WithUnit("{failure}"),
	)
	m.BootstrapAttempts, _ = meter.Int64Counter(
		"stream_bootstrap_attempts_total",
		metric.WithDescription("Bootstrap CA handshakes completed while a bootstrap was pending"),
		metric.WithUnit("{attempt}"),
	)
	m.BootstrapWins, _ = meter.Int64Counter(
		"stream_bootstrap_wins_total",
		metric.WithDescription("Bootstrap attempts that won the O_EXCL race and installed a CA"),
		metric.WithUnit("{win}"),
	)
	m.BootstrapRejections, _ = meter.Int64Counter(
		"stream_bootstrap_rejections_total",
		metric.WithDescription("Streams rejected for completing handshake during a bootstrap window they lost"),
		metric.WithUnit("{rejection}"),
	)
	m.RxWantStalls, _ = meter.Int64Counter(
		"stream_rx_want_stalls_total",
		metric.WithDescription("recv calls that returned EAGAIN with a non-idle rx_want"),
		metric.WithUnit("{stall}"),
	)

	return m
}
