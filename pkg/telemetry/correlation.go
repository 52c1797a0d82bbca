// Package telemetry carries run correlation and OpenTelemetry metrics for
// the export pipeline.
package telemetry

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Correlation identifies one export run. It is minted once at the top of a
// run and travels with every log line, metric and envelope that run
// produces. Values are copied, never mutated: With returns a derived copy
// for sub-scopes so parent scopes keep their own view.
type Correlation struct {
	OperationID   string            `json:"operationId"`
	OperationName string            `json:"operationName"`
	StartTime     time.Time         `json:"startTime"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// NewCorrelation mints a correlation for a run of the named operation.
func NewCorrelation(operation string) Correlation {
	return Correlation{
		OperationID:   uuid.NewString(),
		OperationName: operation,
		StartTime:     time.Now().UTC(),
	}
}

// With returns a copy of c carrying an extra label.
func (c Correlation) With(key, value string) Correlation {
	labels := make(map[string]string, len(c.Labels)+1)
	maps.Copy(labels, c.Labels)
	labels[key] = value
	c.Labels = labels
	return c
}

// Attrs returns the correlation as alternating key/value pairs for slog,
// labels in sorted order.
func (c Correlation) Attrs() []any {
	attrs := []any{"exportId", c.OperationID, "operation", c.OperationName}
	for _, k := range slices.Sorted(maps.Keys(c.Labels)) {
		attrs = append(attrs, k, c.Labels[k])
	}
	return attrs
}

// Elapsed reports the time since the run started.
func (c Correlation) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}
