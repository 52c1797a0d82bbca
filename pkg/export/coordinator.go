package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/batch"
	"github.com/cometsec/comet/pkg/clean"
	"github.com/cometsec/comet/pkg/config"
	"github.com/cometsec/comet/pkg/retry"
	"github.com/cometsec/comet/pkg/state"
	"github.com/cometsec/comet/pkg/telemetry"
	"github.com/cometsec/comet/pkg/types"
)

// authRetryAttempts caps preflight retries: a credential that fails twice
// in a row is not going to start working mid-run.
const authRetryAttempts = 2

// runMarkerKey records the whole run's completion, next to the per-scope
// markers.
const runMarkerKey = "run"

// Options assembles a Runner. Config, Sources and Sink are required;
// Store, Cleaner and Tracker fall back to a no-op store, the built-in
// rule table and a fresh tracker.
type Options struct {
	Config  *config.Config
	Sources Sources
	Sink    Transmitter
	Store   state.Store
	Cleaner *clean.Cleaner
	Tracker *telemetry.Tracker
}

// Runner drives a full export run: every configured scope in priority
// order, each isolated from the failures of the others.
type Runner struct {
	cfg     *config.Config
	orch    *orchestrator
	sources Sources
	store   state.Store
}

// NewRunner wires a Runner from the options.
func NewRunner(opts Options) *Runner {
	cfg := opts.Config
	tracker := opts.Tracker
	if tracker == nil {
		tracker = telemetry.NewTracker()
	}
	cleaner := opts.Cleaner
	if cleaner == nil {
		cleaner = clean.NewCleaner()
	}
	store := opts.Store
	if store == nil {
		store = state.Noop{}
	}

	orch := &orchestrator{
		sources: opts.Sources,
		sink:    opts.Sink,
		cleaner: cleaner,
		tracker: tracker,
		limits: batch.Limits{
			TargetBytes:     cfg.Batch.TargetBytes,
			HardCapBytes:    cfg.Batch.HardCapBytes,
			SingleItemBytes: cfg.Batch.SingleItemBytes,
		},
		sendExec: retry.New(cfg.Retry.MaxAttempts, cfg.Retry.InitialWait, cfg.Retry.MaxWait, azure.Classify).WithTracker(tracker),
		authExec: retry.New(authRetryAttempts, cfg.Retry.InitialWait, cfg.Retry.MaxWait, azure.Classify).WithTracker(tracker),
		opts:     cfg.Export,
		pageSize: cfg.Fetch.PageSize,
		delayMin: time.Duration(cfg.Fetch.ParentDelayMinMillis) * time.Millisecond,
		delayMax: time.Duration(cfg.Fetch.ParentDelayMaxMillis) * time.Millisecond,
		sleep:    time.Sleep,
	}

	return &Runner{cfg: cfg, orch: orch, sources: opts.Sources, store: store}
}

// Run executes the export across every configured scope and returns the
// aggregated result. Scope failures never abort the run; cancellation of
// ctx stops it between scopes.
func (r *Runner) Run(ctx context.Context) types.RunResult {
	corr := telemetry.NewCorrelation("export")
	result := types.RunResult{
		ExportID:  corr.OperationID,
		TenantID:  r.cfg.TenantID,
		StartTime: corr.StartTime,
	}

	if last, err := r.store.LastRun(runMarkerKey); err != nil {
		slog.Warn("failed to read the last run marker", "error", err)
	} else {
		result.LastSuccessfulRun = last
	}

	tenant, err := r.sources.Tenant(ctx)
	if err != nil {
		slog.Warn("failed to resolve tenant details", append(corr.Attrs(), "error", err)...)
		result.TenantName = "Unknown"
	} else {
		result.TenantName = tenant.Name
	}

	scopes := r.cfg.Scopes()
	slog.Info("export run starting", append(corr.Attrs(),
		"tenant", result.TenantName,
		"scopes", len(scopes),
		"sink", r.orch.sink.Target())...)

	for _, scope := range scopes {
		sres := r.orch.exportScope(ctx, scope, corr.With("scope", scope.ID()))
		result.Scopes = append(result.Scopes, sres)
		result.Stats.Merge(sres.Stats)

		if sres.Success {
			if err := r.store.RecordRun(markerKey(scope), time.Now().UTC()); err != nil {
				slog.Warn("failed to persist the scope run marker",
					append(corr.Attrs(), "scope", scope.String(), "error", err)...)
			}
		}
		if ctx.Err() != nil {
			slog.Warn("run cancelled, skipping remaining scopes", corr.Attrs()...)
			break
		}
	}

	result.Duration = corr.Elapsed()
	if result.Success() {
		if err := r.store.RecordRun(runMarkerKey, time.Now().UTC()); err != nil {
			slog.Warn("failed to persist the run marker", append(corr.Attrs(), "error", err)...)
		}
	}

	slog.Info("export run finished", append(corr.Attrs(),
		"success", result.Success(),
		"failedScopes", result.FailedScopes(),
		"processed", result.Stats.Processed,
		"failed", result.Stats.Failed,
		"batches", result.Stats.Batches,
		"payloadBytes", result.Stats.PayloadBytes,
		"took", result.Duration.Round(time.Millisecond))...)
	return result
}

func markerKey(s types.Scope) string {
	return string(s.Kind) + "/" + s.ID()
}
