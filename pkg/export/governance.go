package export

import (
	"context"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/types"
)

const securityPricingsAPIVersion = "2024-01-01"

// The governance exporters share one shape: an SDK pager of ARM records
// decorated like any other resource.
func (r *scopeRun) exportGovernance(ctx context.Context, entity, odataContext string, open func() (azure.Pager, error)) types.EntityResult {
	p := r.o.newPipeline(r.scope, r.corr, pipelineSpec{
		entity:        entity,
		odataContext:  odataContext,
		kindFor:       recordTypeKind,
		decorate:      decorateResource,
		countRecords:  true,
		progressEvery: 500,
	})

	pager, err := open()
	if err != nil {
		p.fail(err)
		return p.finish(ctx)
	}
	p.feed(ctx, pager)
	return p.finish(ctx)
}

func (r *scopeRun) exportRoleDefinitions(ctx context.Context) types.EntityResult {
	return r.exportGovernance(ctx, EntityRoleDefinitions, "roleDefinitions", func() (azure.Pager, error) {
		return r.o.sources.RoleDefinitions("/subscriptions/" + r.scope.SubscriptionID)
	})
}

func (r *scopeRun) exportRoleAssignments(ctx context.Context) types.EntityResult {
	return r.exportGovernance(ctx, EntityRoleAssignments, "roleAssignments", func() (azure.Pager, error) {
		return r.o.sources.RoleAssignments(r.scope.SubscriptionID)
	})
}

func (r *scopeRun) exportPolicyDefinitions(ctx context.Context) types.EntityResult {
	return r.exportGovernance(ctx, EntityPolicyDefs, "policyDefinitions", func() (azure.Pager, error) {
		return r.o.sources.PolicyDefinitions(r.scope.SubscriptionID)
	})
}

func (r *scopeRun) exportPolicyAssignments(ctx context.Context) types.EntityResult {
	return r.exportGovernance(ctx, EntityPolicyAssigns, "policyAssignments", func() (azure.Pager, error) {
		return r.o.sources.PolicyAssignments(r.scope.SubscriptionID)
	})
}

func (r *scopeRun) exportPolicyExemptions(ctx context.Context) types.EntityResult {
	return r.exportGovernance(ctx, EntityPolicyExemptions, "policyExemptions", func() (azure.Pager, error) {
		return r.o.sources.PolicyExemptions(r.scope.SubscriptionID)
	})
}

// exportSecurityPricings lists the Defender for Cloud plan records. No SDK
// client covers this surface, so it goes through the raw management-plane
// fetcher.
func (r *scopeRun) exportSecurityPricings(ctx context.Context) types.EntityResult {
	p := r.o.newPipeline(r.scope, r.corr, pipelineSpec{
		entity:       EntitySecurityPricings,
		odataContext: "securityPricings",
		kindFor:      recordTypeKind,
		decorate:     decorateResource,
		countRecords: true,
	})

	url := azure.ARMURL(
		"/subscriptions/"+r.scope.SubscriptionID+"/providers/Microsoft.Security/pricings",
		securityPricingsAPIVersion)
	p.feed(ctx, r.o.sources.ARMPages(url))
	return p.finish(ctx)
}
