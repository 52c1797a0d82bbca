package export

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/types"
)

func (r *scopeRun) exportSubscription(ctx context.Context) types.EntityResult {
	p := r.o.newPipeline(r.scope, r.corr, pipelineSpec{
		entity:       EntitySubscriptions,
		odataContext: "subscriptions",
		kindFor:      staticKind("microsoft.resources/subscriptions"),
		decorate: func(env *types.Envelope, _ map[string]any) {
			env.ResourceType = "microsoft.resources/subscriptions"
		},
		countRecords: true,
	})

	record, err := r.o.sources.Subscription(ctx, r.scope.SubscriptionID)
	if err != nil {
		p.fail(err)
	} else {
		p.add(ctx, record)
	}
	return p.finish(ctx)
}

func (r *scopeRun) exportResourceGroups(ctx context.Context) types.EntityResult {
	p := r.o.newPipeline(r.scope, r.corr, pipelineSpec{
		entity:       EntityResourceGroups,
		odataContext: "resourceGroups",
		kindFor:      recordTypeKind,
		decorate: func(env *types.Envelope, record map[string]any) {
			if t, ok := record["type"].(string); ok {
				env.ResourceType = strings.ToLower(t)
			}
			if name, ok := record["name"].(string); ok {
				env.ResourceGroup = name
			}
		},
		countRecords:  true,
		progressEvery: 500,
	})

	pager, err := r.o.sources.ResourceGroups(r.scope.SubscriptionID)
	if err != nil {
		p.fail(err)
		return p.finish(ctx)
	}
	p.feed(ctx, pager)
	return p.finish(ctx)
}

// exportResources streams every resource in the subscription and, when
// child resources are enabled, remembers the parents the fan-out will
// visit.
func (r *scopeRun) exportResources(ctx context.Context) types.EntityResult {
	spec := pipelineSpec{
		entity:        EntityResources,
		odataContext:  "resources",
		kindFor:       recordTypeKind,
		decorate:      decorateResource,
		filter:        r.resourceFilter(),
		countRecords:  true,
		progressEvery: 500,
	}
	if r.o.opts.IncludeChildResources {
		spec.observe = func(record map[string]any) {
			t, _ := record["type"].(string)
			key := strings.ToLower(t)
			if _, ok := childCollections[key]; !ok {
				return
			}
			id, _ := record["id"].(string)
			if id == "" {
				return
			}
			r.parents = append(r.parents, parentResource{
				id:           id,
				resourceType: key,
				group:        resourceGroupFromID(id),
			})
		}
	}
	p := r.o.newPipeline(r.scope, r.corr, spec)

	pager, err := r.o.sources.Resources(r.scope.SubscriptionID)
	if err != nil {
		p.fail(err)
		return p.finish(ctx)
	}
	p.feed(ctx, pager)
	return p.finish(ctx)
}

// resourceFilter builds the optional record filter from the configured
// resource group and type allow-lists; nil when no filtering applies.
func (r *scopeRun) resourceFilter() func(map[string]any) bool {
	groups := lowerSet(r.o.opts.ResourceGroupFilter)
	kinds := lowerSet(r.o.opts.ResourceTypeFilter)
	if groups == nil && kinds == nil {
		return nil
	}
	return func(record map[string]any) bool {
		if kinds != nil {
			t, _ := record["type"].(string)
			if !kinds[strings.ToLower(t)] {
				return false
			}
		}
		if groups != nil {
			id, _ := record["id"].(string)
			if !groups[strings.ToLower(resourceGroupFromID(id))] {
				return false
			}
		}
		return true
	}
}

// exportChildResources fans out over the parents collected by the
// resource pass, one child collection at a time.
func (r *scopeRun) exportChildResources(ctx context.Context) types.EntityResult {
	p := r.o.newPipeline(r.scope, r.corr, pipelineSpec{
		entity:        EntityChildResources,
		odataContext:  "childResources",
		kindFor:       recordTypeKind,
		progressEvery: 100,
		total:         len(r.parents),
	})

	for i, parent := range r.parents {
		if i > 0 {
			r.o.pause()
		}
		p.stats.Processed++
		p.decorate = func(env *types.Envelope, record map[string]any) {
			env.ParentResourceID = parent.id
			env.ResourceGroup = parent.group
			if t, ok := record["type"].(string); ok {
				env.ResourceType = strings.ToLower(t)
			}
		}

		ok := true
		for _, col := range childCollections[parent.resourceType] {
			url := azure.ARMURL(parent.id+"/"+col.collection, col.apiVersion)
			if !p.feedParent(ctx, r.o.sources.ARMPages(url)) {
				ok = false
			}
			if p.fatal != nil {
				break
			}
		}
		if p.fatal != nil {
			break
		}
		if ok {
			p.stats.Succeeded++
		} else {
			p.stats.Failed++
			slog.Warn("child resource fetch failed, continuing with remaining parents",
				append(r.corr.Attrs(), "entity", EntityChildResources, "parent", parent.id)...)
		}
		p.progress(i + 1)
	}
	return p.finish(ctx)
}
