package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/batch"
	"github.com/cometsec/comet/pkg/retry"
	"github.com/cometsec/comet/pkg/telemetry"
	"github.com/cometsec/comet/pkg/types"
)

// pipelineSpec shapes one entity's pipeline.
type pipelineSpec struct {
	entity       string
	odataContext string

	// kindFor picks the cleaning rule key for a record.
	kindFor func(map[string]any) string
	// decorate fills entity-specific envelope metadata from the raw
	// record. Fan-out exporters swap it per parent.
	decorate func(*types.Envelope, map[string]any)
	// filter drops records before any processing; nil keeps everything.
	filter func(map[string]any) bool
	// observe sees every accepted raw record, for collecting ids later
	// entities depend on.
	observe func(map[string]any)

	// countRecords drives Processed/Succeeded/Failed at record
	// granularity; fan-out exporters turn it off and count parents
	// instead.
	countRecords  bool
	progressEvery int
	total         int
}

// pipeline pushes one entity's records through clean, envelope, batch and
// send, accumulating statistics. It is single-use.
type pipeline struct {
	pipelineSpec

	scope   types.Scope
	corr    telemetry.Correlation
	cleaner recordCleaner
	batcher *batch.Batcher
	sink    Transmitter
	exec    *retry.Executor
	tracker *telemetry.Tracker

	stats        types.Stats
	oversizedIDs []string
	start        time.Time

	// fatal halts the scope; structural fails this entity only.
	fatal      error
	structural error
}

// recordCleaner is the one cleaning method the pipeline needs.
type recordCleaner interface {
	Clean(kind string, record map[string]any) map[string]any
}

func (o *orchestrator) newPipeline(scope types.Scope, corr telemetry.Correlation, spec pipelineSpec) *pipeline {
	return &pipeline{
		pipelineSpec: spec,
		scope:        scope,
		corr:         corr,
		cleaner:      o.cleaner,
		batcher:      batch.NewBatcher(o.limits),
		sink:         o.sink,
		exec:         o.sendExec,
		tracker:      o.tracker,
		start:        time.Now(),
	}
}

// add pushes one raw record through the pipeline. Failures that only
// concern this record are tallied and swallowed; a fatal transmission
// failure is parked in p.fatal for the caller to notice.
func (p *pipeline) add(ctx context.Context, record map[string]any) {
	if p.filter != nil && !p.filter(record) {
		return
	}
	if p.observe != nil {
		p.observe(record)
	}
	if p.countRecords {
		p.stats.Processed++
	}

	kind := ""
	if p.kindFor != nil {
		kind = p.kindFor(record)
	}
	cleaned := p.cleaner.Clean(kind, record)

	env := &types.Envelope{
		ODataContext:    p.odataContext,
		TenantID:        p.scope.TenantID,
		ExportID:        p.corr.OperationID,
		ExportTimestamp: time.Now().UTC().Format(time.RFC3339),
		Record:          cleaned,
	}
	if p.scope.Kind == types.ScopeSubscription {
		env.SubscriptionID = p.scope.SubscriptionID
	}
	if p.decorate != nil {
		p.decorate(env, record)
	}

	sealed, err := p.batcher.Add(env)
	if err != nil {
		if p.countRecords {
			p.stats.Failed++
		}
		p.tracker.RecordsFailed(ctx, p.entity, 1)
		slog.Warn("record dropped", append(p.corr.Attrs(), "entity", p.entity, "error", err)...)
		return
	}
	if p.countRecords {
		p.stats.Succeeded++
	}
	p.tracker.RecordsExported(ctx, p.entity, 1)

	for _, b := range sealed {
		if err := p.send(ctx, b); err != nil {
			p.fatal = err
			return
		}
	}

	if p.countRecords {
		p.progress(p.stats.Processed)
	}
}

// feed drains a pager for a top-level listing. A page failure is
// structural for the entity; fatal classifications halt the scope.
func (p *pipeline) feed(ctx context.Context, pager azure.Pager) {
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			p.fail(err)
			return
		}
		for _, record := range page.Items {
			p.add(ctx, record)
			if p.fatal != nil {
				return
			}
		}
	}
}

// feedParent drains one parent's pager inside a fan-out and reports
// whether the parent completed. Parent failures stay with the parent;
// only broken scope access sticks as fatal. A 404 here means the parent
// disappeared between listing and fetch, which is that parent's problem,
// not the scope's.
func (p *pipeline) feedParent(ctx context.Context, pager azure.Pager) bool {
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			c := azure.Classify(err)
			if c.Fatal && c.Category != retry.CategoryConfiguration {
				p.fatal = err
			}
			return false
		}
		for _, record := range page.Items {
			p.add(ctx, record)
			if p.fatal != nil {
				return false
			}
		}
	}
	return true
}

// fail records a failure of the entity's own listing.
func (p *pipeline) fail(err error) {
	c := azure.Classify(err)
	attrs := append(p.corr.Attrs(), "entity", p.entity, "category", string(c.Category), "error", err)
	if c.Remediation != "" {
		attrs = append(attrs, "remediation", c.Remediation)
	}
	slog.Error("entity export failed", attrs...)

	if c.Fatal {
		p.fatal = err
		return
	}
	if p.structural == nil {
		p.structural = err
	}
}

// send delivers one sealed batch through the retry executor. Non-fatal
// delivery failures are counted and swallowed so the remaining batches
// still ship; fatal ones are returned to halt the scope.
func (p *pipeline) send(ctx context.Context, b *batch.Batch) error {
	if b.Oversized() {
		p.stats.Oversized += b.Count()
		p.oversizedIDs = append(p.oversizedIDs, b.IDs()...)
		p.tracker.OversizedRecord(ctx, p.entity)
		slog.Warn("record exceeds the batch hard cap, sending as its own batch",
			append(p.corr.Attrs(), "entity", p.entity, "bytes", b.Size(), "recordId", b.IDs()[0])...)
	}

	p.stats.Batches++
	start := time.Now()
	err := p.exec.Do(ctx, p.entity+" batch send", func(ctx context.Context) error {
		return p.sink.Send(ctx, b)
	})
	if err != nil {
		p.stats.FailedBatches++
		p.tracker.BatchFailed(ctx, p.entity)
		c := azure.Classify(err)
		attrs := append(p.corr.Attrs(),
			"entity", p.entity,
			"records", b.Count(),
			"bytes", b.Size(),
			"category", string(c.Category),
			"error", err)
		if c.Remediation != "" {
			attrs = append(attrs, "remediation", c.Remediation)
		}
		slog.Error("batch delivery failed", attrs...)
		if c.Fatal {
			return err
		}
		return nil
	}

	p.stats.PayloadBytes += int64(b.Size())
	p.tracker.BatchSent(ctx, p.entity, int64(b.Size()), time.Since(start))
	return nil
}

// finish flushes the partial batch and assembles the entity result. After
// a fatal failure nothing more is sent.
func (p *pipeline) finish(ctx context.Context) types.EntityResult {
	if p.fatal == nil {
		if final := p.batcher.Flush(); final != nil {
			if err := p.send(ctx, final); err != nil {
				p.fatal = err
			}
		}
	}

	err := p.fatal
	if err == nil {
		err = p.structural
	}
	res := types.EntityResult{
		Entity:       p.entity,
		Stats:        p.stats,
		Success:      err == nil,
		Err:          err,
		OversizedIDs: p.oversizedIDs,
		Duration:     time.Since(p.start),
	}

	slog.Info("entity export finished", append(p.corr.Attrs(),
		"entity", p.entity,
		"processed", p.stats.Processed,
		"succeeded", p.stats.Succeeded,
		"failed", p.stats.Failed,
		"batches", p.stats.Batches,
		"failedBatches", p.stats.FailedBatches,
		"payloadBytes", p.stats.PayloadBytes,
		"success", res.Success,
		"took", res.Duration.Round(time.Millisecond))...)
	return res
}

func (p *pipeline) progress(done int) {
	if p.progressEvery <= 0 || done == 0 || done%p.progressEvery != 0 {
		return
	}
	attrs := append(p.corr.Attrs(), "entity", p.entity, "processed", done)
	if p.total > 0 {
		attrs = append(attrs, "total", p.total, "percent", done*100/p.total)
	}
	slog.Info("export progress", attrs...)
}
