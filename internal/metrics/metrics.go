// Package metrics wraps an OpenTelemetry Meter/Tracer with the counter,
// histogram, and span families the admin surface exposes (§6): external
// requests, per-domain forward time, per-replay latency, materialization
// bytes, and eviction counts.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Registry is the process-wide metrics singleton (§9 "Global state"):
// created at worker start, torn down at worker stop, with a coarse lock
// taken on registration and by Status; Reset does not take it.
type Registry struct {
	mu sync.Mutex

	meter  metric.Meter
	tracer trace.Tracer

	externalRequests metric.Int64Counter
	forwardTime      metric.Float64Histogram
	replayLatency    metric.Float64Histogram
	materializedBytes metric.Int64ObservableGauge
	evictionCount    metric.Int64Counter

	bytesGauge int64 // backing value for materializedBytes' callback

	provider *sdkmetric.MeterProvider
}

// Option configures the exporter a Registry reports to.
type Option func(*sdkmetric.MeterProvider)

// New constructs a Registry. exporter selects stdout (dev/local) or OTLP
// HTTP (production); see NewStdoutExporter/NewOTLPExporter.
func New(ctx context.Context, reader sdkmetric.Reader) (*Registry, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/fluxcache/fluxcache")
	tracer := otel.Tracer("github.com/fluxcache/fluxcache")

	r := &Registry{meter: meter, tracer: tracer, provider: provider}

	var err error
	r.externalRequests, err = meter.Int64Counter("fluxcache.external_requests",
		metric.WithDescription("count of external-facing lookup/table/admin operations"))
	if err != nil {
		return nil, err
	}
	r.forwardTime, err = meter.Float64Histogram("fluxcache.domain_forward_seconds",
		metric.WithDescription("per-domain packet forward time"))
	if err != nil {
		return nil, err
	}
	r.replayLatency, err = meter.Float64Histogram("fluxcache.replay_latency_seconds",
		metric.WithDescription("time from upquery issue to replay completion"))
	if err != nil {
		return nil, err
	}
	r.evictionCount, err = meter.Int64Counter("fluxcache.eviction_count",
		metric.WithDescription("number of keys evicted from partial state"))
	if err != nil {
		return nil, err
	}
	r.materializedBytes, err = meter.Int64ObservableGauge("fluxcache.materialized_bytes",
		metric.WithDescription("approximate in-memory bytes materialized across all partial nodes"))
	if err != nil {
		return nil, err
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(r.materializedBytes, atomic.LoadInt64(&r.bytesGauge))
		return nil
	}, r.materializedBytes); err != nil {
		return nil, err
	}

	return r, nil
}

// NewStdoutExporter builds a local/dev metric reader that periodically
// prints to stdout, matching the teacher's otel go.mod carrying
// exporters/stdout/stdoutmetric for local runs.
func NewStdoutExporter() (sdkmetric.Reader, error) {
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

// NewOTLPExporter builds a production metric reader exporting over OTLP
// HTTP to endpoint.
func NewOTLPExporter(ctx context.Context, endpoint string) (sdkmetric.Reader, error) {
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

// RecordExternalRequest increments the external-request counter, tagged by
// operation name ("lookup", "raw_lookup", "table_insert", ...).
func (r *Registry) RecordExternalRequest(ctx context.Context, op string) {
	if r == nil {
		return
	}
	r.externalRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordForward records how long a domain spent processing one packet.
func (r *Registry) RecordForward(ctx context.Context, domainID int, seconds float64) {
	if r == nil {
		return
	}
	r.forwardTime.Record(ctx, seconds, metric.WithAttributes(attribute.Int("domain", domainID)))
}

// RecordReplay records the end-to-end latency of one completed replay tag.
func (r *Registry) RecordReplay(ctx context.Context, seconds float64) {
	if r == nil {
		return
	}
	r.replayLatency.Record(ctx, seconds)
}

// RecordEviction increments the eviction counter by n keys.
func (r *Registry) RecordEviction(ctx context.Context, n int) {
	if r == nil {
		return
	}
	r.evictionCount.Add(ctx, int64(n))
}

// SetMaterializedBytes sets the current observable gauge value.
func (r *Registry) SetMaterializedBytes(bytes int64) {
	if r == nil {
		return
	}
	atomic.StoreInt64(&r.bytesGauge, bytes)
}

// StartSpan starts a span under the lookup-through-replay trace, mirroring
// the teacher's otel span pattern in internal/hooks/hooks_unix.go: root span
// with recorded error/status on return.
func (r *Registry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if r == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Status returns the key/value metrics vector required by the external
// status() operation (§6). Only a fixed snapshot of counters is supported
// without a pull-based registry; richer export goes through the configured
// Reader.
func (r *Registry) Status() map[string]int64 {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int64{
		"materialized_bytes": atomic.LoadInt64(&r.bytesGauge),
	}
}

// Reset zeroes the point-in-time counters this Registry can report via
// Status; the underlying OTel instruments themselves are monotonic and
// continue accumulating for their own exporter (a reset there would
// misrepresent the exported series), matching how the external status()
// reset operation is scoped (§6 "reset operation zeroes counters").
func (r *Registry) Reset() {
	if r == nil {
		return
	}
	atomic.StoreInt64(&r.bytesGauge, 0)
}

// Shutdown flushes and tears down the meter provider (§9 "torn down at
// worker stop").
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}
