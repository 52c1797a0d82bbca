package types

// Stats accumulates counters for a single exporter invocation. Each exporter
// creates a fresh Stats, mutates it while streaming, and returns it; callers
// sum the returned values upward into scope and run totals.
type Stats struct {
	Processed     int   `json:"processed"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
	Batches       int   `json:"batches"`
	FailedBatches int   `json:"failedBatches"`
	PayloadBytes  int64 `json:"payloadBytes"`
	Oversized     int   `json:"oversized"`
}

// Merge adds other's counters into s.
func (s *Stats) Merge(other Stats) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Batches += other.Batches
	s.FailedBatches += other.FailedBatches
	s.PayloadBytes += other.PayloadBytes
	s.Oversized += other.Oversized
}
