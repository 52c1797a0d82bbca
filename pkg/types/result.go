package types

import "time"

// EntityResult reports the outcome of one entity exporter run within a scope.
// Success reflects structural health only: per-record partial failures leave
// it true, a fatal error (auth, missing permission) makes it false.
type EntityResult struct {
	Entity       string
	Stats        Stats
	Success      bool
	Err          error
	OversizedIDs []string
	Duration     time.Duration
}

// ScopeResult aggregates entity outcomes for one scope.
type ScopeResult struct {
	Scope    Scope
	Entities []EntityResult
	Stats    Stats
	Success  bool
	Err      error
	Duration time.Duration
}

// RunResult is the top-level outcome across every scope of one export run.
type RunResult struct {
	ExportID   string
	TenantID   string
	TenantName string
	StartTime  time.Time
	Duration   time.Duration
	Scopes     []ScopeResult
	Stats      Stats

	// LastSuccessfulRun is the previous fully successful run recorded in
	// the state store; zero when unknown.
	LastSuccessfulRun time.Time
}

// FailedScopes counts scopes that ended with a structural failure.
func (r RunResult) FailedScopes() int {
	n := 0
	for _, s := range r.Scopes {
		if !s.Success {
			n++
		}
	}
	return n
}

// Success reports whether every scope completed without structural failure.
// Per-record failures inside a scope do not affect it.
func (r RunResult) Success() bool {
	return r.FailedScopes() == 0
}
