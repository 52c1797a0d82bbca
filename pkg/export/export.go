// Package export orchestrates the inventory export: it pulls directory
// objects and ARM resources scope by scope, cleans and envelopes every
// record, batches envelopes under the size budget and streams the batches
// to the event bus, folding partial failures into statistics instead of
// aborting runs.
package export

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/time/rate"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/batch"
	"github.com/cometsec/comet/pkg/config"
	"github.com/cometsec/comet/pkg/retry"
	"github.com/cometsec/comet/pkg/telemetry"
)

// Entity names used in results, logs and metric labels.
const (
	EntityUsers            = "users"
	EntityGroups           = "groups"
	EntityMemberships      = "memberships"
	EntitySubscriptions    = "subscriptions"
	EntityResourceGroups   = "resourceGroups"
	EntityResources        = "resources"
	EntityChildResources   = "childResources"
	EntityRoleDefinitions  = "roleDefinitions"
	EntityRoleAssignments  = "roleAssignments"
	EntityPolicyDefs       = "policyDefinitions"
	EntityPolicyAssigns    = "policyAssignments"
	EntityPolicyExemptions = "policyExemptions"
	EntitySecurityPricings = "securityPricings"
)

// Sources is the Azure surface the exporters pull from. The production
// implementation is AzureSources; tests substitute fakes.
type Sources interface {
	// Token acquires a bearer token for the audience; the orchestrator
	// uses it as the scope access preflight.
	Token(ctx context.Context, audience string) (string, error)
	// Tenant resolves display details of the exporting tenant.
	Tenant(ctx context.Context) (azure.TenantDetails, error)
	// GraphPages walks a Microsoft Graph listing.
	GraphPages(url string) azure.Pager
	// ARMPages walks a management-plane listing outside the SDK clients.
	ARMPages(url string) azure.Pager

	Subscription(ctx context.Context, subscriptionID string) (map[string]any, error)
	Resources(subscriptionID string) (azure.Pager, error)
	ResourceGroups(subscriptionID string) (azure.Pager, error)
	RoleDefinitions(scope string) (azure.Pager, error)
	RoleAssignments(subscriptionID string) (azure.Pager, error)
	PolicyDefinitions(subscriptionID string) (azure.Pager, error)
	PolicyAssignments(subscriptionID string) (azure.Pager, error)
	PolicyExemptions(subscriptionID string) (azure.Pager, error)
}

// Transmitter delivers sealed batches to the event bus.
type Transmitter interface {
	Send(ctx context.Context, b *batch.Batch) error
	Target() string
}

// Discard is the dry-run transmitter: batches count in the statistics but
// never leave the process.
type Discard struct{}

func (Discard) Send(context.Context, *batch.Batch) error { return nil }
func (Discard) Target() string                           { return "discard" }

// AzureSources implements Sources on the real Azure clients: REST fetchers
// for Graph and the raw management plane, SDK clients for the rest.
type AzureSources struct {
	cred    azcore.TokenCredential
	tokens  azure.TokenSource
	clients *azure.Clients
	graph   *azure.Fetcher
	arm     *azure.Fetcher
}

// NewAzureSources wires the fetchers and SDK clients from the credential
// and configuration. REST fetches retry through exec; SDK calls use the
// pipeline's own retry policy aligned with the same configuration.
func NewAzureSources(cred azcore.TokenCredential, cfg *config.Config, tracker *telemetry.Tracker) *AzureSources {
	tokens := azure.NewProvider(cred)
	exec := retry.New(cfg.Retry.MaxAttempts, cfg.Retry.InitialWait, cfg.Retry.MaxWait, azure.Classify).WithTracker(tracker)

	var limiter *rate.Limiter
	if cfg.Fetch.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RequestsPerSecond), 1)
	}

	clients := azure.NewClients(cred, policy.RetryOptions{
		MaxRetries:    int32(cfg.Retry.MaxAttempts),
		RetryDelay:    cfg.Retry.InitialWait,
		MaxRetryDelay: cfg.Retry.MaxWait,
	})

	return &AzureSources{
		cred:    cred,
		tokens:  tokens,
		clients: clients,
		graph:   azure.NewFetcher(tokens, azure.AudienceGraph, exec, limiter),
		arm:     azure.NewFetcher(tokens, azure.AudienceManagement, exec, limiter),
	}
}

func (s *AzureSources) Token(ctx context.Context, audience string) (string, error) {
	return s.tokens.Token(ctx, audience)
}

func (s *AzureSources) Tenant(ctx context.Context) (azure.TenantDetails, error) {
	return azure.GetTenantDetails(ctx, s.cred)
}

func (s *AzureSources) GraphPages(url string) azure.Pager { return s.graph.Pages(url) }

func (s *AzureSources) ARMPages(url string) azure.Pager { return s.arm.Pages(url) }

func (s *AzureSources) Subscription(ctx context.Context, subscriptionID string) (map[string]any, error) {
	return s.clients.Subscription(ctx, subscriptionID)
}

func (s *AzureSources) Resources(subscriptionID string) (azure.Pager, error) {
	return s.clients.Resources(subscriptionID)
}

func (s *AzureSources) ResourceGroups(subscriptionID string) (azure.Pager, error) {
	return s.clients.ResourceGroups(subscriptionID)
}

func (s *AzureSources) RoleDefinitions(scope string) (azure.Pager, error) {
	return s.clients.RoleDefinitions(scope)
}

func (s *AzureSources) RoleAssignments(subscriptionID string) (azure.Pager, error) {
	return s.clients.RoleAssignments(subscriptionID)
}

func (s *AzureSources) PolicyDefinitions(subscriptionID string) (azure.Pager, error) {
	return s.clients.PolicyDefinitions(subscriptionID)
}

func (s *AzureSources) PolicyAssignments(subscriptionID string) (azure.Pager, error) {
	return s.clients.PolicyAssignments(subscriptionID)
}

func (s *AzureSources) PolicyExemptions(subscriptionID string) (azure.Pager, error) {
	return s.clients.PolicyExemptions(subscriptionID)
}
