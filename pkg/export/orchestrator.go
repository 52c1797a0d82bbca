package export

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/batch"
	"github.com/cometsec/comet/pkg/clean"
	"github.com/cometsec/comet/pkg/config"
	"github.com/cometsec/comet/pkg/retry"
	"github.com/cometsec/comet/pkg/telemetry"
	"github.com/cometsec/comet/pkg/types"
)

// orchestrator runs one scope at a time: access preflight first, then the
// scope's entity exporters in dependency order.
type orchestrator struct {
	sources  Sources
	sink     Transmitter
	cleaner  *clean.Cleaner
	tracker  *telemetry.Tracker
	limits   batch.Limits
	sendExec *retry.Executor
	authExec *retry.Executor
	opts     config.ExportOptions
	pageSize int
	delayMin time.Duration
	delayMax time.Duration
	sleep    func(time.Duration)
}

// scopeRun carries the per-scope state the exporters share: ids collected
// by one entity and consumed by a later one. Scope identity travels here
// explicitly, never through process globals.
type scopeRun struct {
	o     *orchestrator
	scope types.Scope
	corr  telemetry.Correlation

	groupIDs []string
	parents  []parentResource
}

type entityJob struct {
	name string
	run  func(context.Context) types.EntityResult
}

func (o *orchestrator) exportScope(ctx context.Context, scope types.Scope, corr telemetry.Correlation) types.ScopeResult {
	start := time.Now()
	res := types.ScopeResult{Scope: scope, Success: true}
	slog.Info("scope export starting", append(corr.Attrs(), "scope", scope.String())...)

	if err := o.preflight(ctx, scope); err != nil {
		c := azure.Classify(err)
		attrs := append(corr.Attrs(), "scope", scope.String(), "category", string(c.Category), "error", err)
		if c.Remediation != "" {
			attrs = append(attrs, "remediation", c.Remediation)
		}
		slog.Error("scope access check failed, skipping scope", attrs...)
		res.Success = false
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	run := &scopeRun{o: o, scope: scope, corr: corr}
	for _, job := range run.jobs() {
		er := job.run(ctx)
		res.Entities = append(res.Entities, er)
		res.Stats.Merge(er.Stats)
		if er.Err == nil {
			continue
		}
		res.Success = false
		if azure.Classify(er.Err).Fatal {
			res.Err = er.Err
			slog.Error("fatal failure, halting scope",
				append(corr.Attrs(), "scope", scope.String(), "entity", er.Entity, "error", er.Err)...)
			break
		}
		if res.Err == nil {
			res.Err = er.Err
		}
	}

	res.Duration = time.Since(start)
	slog.Info("scope export finished", append(corr.Attrs(),
		"scope", scope.String(),
		"success", res.Success,
		"processed", res.Stats.Processed,
		"failed", res.Stats.Failed,
		"batches", res.Stats.Batches,
		"took", res.Duration.Round(time.Millisecond))...)
	return res
}

// preflight proves the scope is reachable before any exporter runs. A
// broken credential or missing role fails here, cheaply, instead of five
// entities deep.
func (o *orchestrator) preflight(ctx context.Context, scope types.Scope) error {
	audience := azure.AudienceManagement
	if scope.Kind == types.ScopeDirectory {
		audience = azure.AudienceGraph
	}
	return o.authExec.Do(ctx, "scope access check", func(ctx context.Context) error {
		_, err := o.sources.Token(ctx, audience)
		return err
	})
}

// jobs lists the scope's entity exporters in dependency order: groups
// before memberships, resources before child resources.
func (r *scopeRun) jobs() []entityJob {
	if r.scope.Kind == types.ScopeDirectory {
		return []entityJob{
			{EntityUsers, r.exportUsers},
			{EntityGroups, r.exportGroups},
			{EntityMemberships, r.exportMemberships},
		}
	}

	var jobs []entityJob
	if r.o.opts.SubscriptionObjects {
		jobs = append(jobs, entityJob{EntitySubscriptions, r.exportSubscription})
	}
	if r.o.opts.ResourceGroupDetails {
		jobs = append(jobs, entityJob{EntityResourceGroups, r.exportResourceGroups})
	}
	jobs = append(jobs, entityJob{EntityResources, r.exportResources})
	if r.o.opts.IncludeChildResources {
		jobs = append(jobs, entityJob{EntityChildResources, r.exportChildResources})
	}
	if r.o.opts.RoleDefinitions {
		jobs = append(jobs, entityJob{EntityRoleDefinitions, r.exportRoleDefinitions})
	}
	if r.o.opts.RoleAssignments {
		jobs = append(jobs, entityJob{EntityRoleAssignments, r.exportRoleAssignments})
	}
	if r.o.opts.PolicyDefinitions {
		jobs = append(jobs, entityJob{EntityPolicyDefs, r.exportPolicyDefinitions})
	}
	if r.o.opts.PolicyAssignments {
		jobs = append(jobs, entityJob{EntityPolicyAssigns, r.exportPolicyAssignments})
	}
	if r.o.opts.PolicyExemptions {
		jobs = append(jobs, entityJob{EntityPolicyExemptions, r.exportPolicyExemptions})
	}
	if r.o.opts.SecurityCenterSubscriptions {
		jobs = append(jobs, entityJob{EntitySecurityPricings, r.exportSecurityPricings})
	}
	return jobs
}

// pause sleeps a jittered inter-parent delay during fan-outs.
func (o *orchestrator) pause() {
	if o.delayMax <= 0 {
		return
	}
	d := o.delayMin
	if span := o.delayMax - o.delayMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	o.sleep(d)
}
