package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/cometsec/comet/pkg/export"

// Tracker records pipeline metrics and traces. A single Tracker is shared
// by every exporter in a process; instruments aggregate across runs.
type Tracker struct {
	tracer trace.Tracer

	recordsExported metric.Int64Counter
	recordsFailed   metric.Int64Counter
	batchesSent     metric.Int64Counter
	batchesFailed   metric.Int64Counter
	payloadBytes    metric.Int64Counter
	oversized       metric.Int64Counter
	retries         metric.Int64Counter
	sendDuration    metric.Float64Histogram
}

// NewTracker builds a Tracker on the global OpenTelemetry providers. When no
// SDK is installed the instruments are no-ops, so callers never need to
// guard metric calls.
func NewTracker() *Tracker {
	meter := otel.Meter(scopeName)
	t := &Tracker{tracer: otel.Tracer(scopeName)}

	var err error
	t.recordsExported, err = meter.Int64Counter(
		"comet_records_exported_total",
		metric.WithDescription("Records successfully handed to the batcher"),
	)
	if err != nil {
		slog.Warn("failed to create records exported counter", "error", err)
	}

	t.recordsFailed, err = meter.Int64Counter(
		"comet_records_failed_total",
		metric.WithDescription("Records dropped due to per-record failures"),
	)
	if err != nil {
		slog.Warn("failed to create records failed counter", "error", err)
	}

	t.batchesSent, err = meter.Int64Counter(
		"comet_batches_sent_total",
		metric.WithDescription("Batches accepted by the event bus"),
	)
	if err != nil {
		slog.Warn("failed to create batches sent counter", "error", err)
	}

	t.batchesFailed, err = meter.Int64Counter(
		"comet_batches_failed_total",
		metric.WithDescription("Batches abandoned after exhausting retries"),
	)
	if err != nil {
		slog.Warn("failed to create batches failed counter", "error", err)
	}

	t.payloadBytes, err = meter.Int64Counter(
		"comet_payload_bytes_total",
		metric.WithDescription("Serialized payload bytes sent to the event bus"),
	)
	if err != nil {
		slog.Warn("failed to create payload bytes counter", "error", err)
	}

	t.oversized, err = meter.Int64Counter(
		"comet_oversized_records_total",
		metric.WithDescription("Records whose envelope alone exceeded the batch hard cap"),
	)
	if err != nil {
		slog.Warn("failed to create oversized records counter", "error", err)
	}

	t.retries, err = meter.Int64Counter(
		"comet_retry_attempts_total",
		metric.WithDescription("Failed attempts that were retried"),
	)
	if err != nil {
		slog.Warn("failed to create retry attempts counter", "error", err)
	}

	t.sendDuration, err = meter.Float64Histogram(
		"comet_batch_send_duration_ms",
		metric.WithDescription("Batch transmission duration in milliseconds"),
	)
	if err != nil {
		slog.Warn("failed to create batch send duration histogram", "error", err)
	}

	return t
}

// StartSpan opens a child span named after the pipeline stage.
func (t *Tracker) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (t *Tracker) RecordsExported(ctx context.Context, entity string, n int64) {
	t.recordsExported.Add(ctx, n, metric.WithAttributes(attribute.String("entity", entity)))
}

func (t *Tracker) RecordsFailed(ctx context.Context, entity string, n int64) {
	t.recordsFailed.Add(ctx, n, metric.WithAttributes(attribute.String("entity", entity)))
}

func (t *Tracker) BatchSent(ctx context.Context, entity string, bytes int64, took time.Duration) {
	set := metric.WithAttributes(attribute.String("entity", entity))
	t.batchesSent.Add(ctx, 1, set)
	t.payloadBytes.Add(ctx, bytes, set)
	t.sendDuration.Record(ctx, float64(took.Milliseconds()), set)
}

func (t *Tracker) BatchFailed(ctx context.Context, entity string) {
	t.batchesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

func (t *Tracker) OversizedRecord(ctx context.Context, entity string) {
	t.oversized.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

// RetryAttempt records one failed attempt of the named operation along with
// the classification that made it retryable.
func (t *Tracker) RetryAttempt(ctx context.Context, operation, category string, attempt int) {
	t.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("category", category),
		attribute.Int("attempt", attempt),
	))
}
