package azure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armpolicy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
)

// Clients bundles the ARM SDK surface the exporters enumerate with. The SDK
// pipeline already retries 429/5xx internally; NewClients aligns that
// policy with the exporter's own retry settings.
type Clients struct {
	cred azcore.TokenCredential
	opts *arm.ClientOptions
}

func NewClients(cred azcore.TokenCredential, retryOptions policy.RetryOptions) *Clients {
	return &Clients{
		cred: cred,
		opts: &arm.ClientOptions{
			ClientOptions: policy.ClientOptions{Retry: retryOptions},
		},
	}
}

// Subscription fetches the subscription object itself.
func (c *Clients) Subscription(ctx context.Context, subscriptionID string) (map[string]any, error) {
	client, err := armsubscriptions.NewClient(c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	sub, err := client.Get(ctx, subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	return toRecord(sub.Subscription)
}

// Resources lists every resource in the subscription.
func (c *Clients) Resources(subscriptionID string) (Pager, error) {
	client, err := armresources.NewClient(subscriptionID, c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource client: %w", err)
	}
	pager := client.NewListPager(nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list resources: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

// ResourceGroups lists the subscription's resource groups.
func (c *Clients) ResourceGroups(subscriptionID string) (Pager, error) {
	client, err := armresources.NewResourceGroupsClient(subscriptionID, c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	pager := client.NewListPager(nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list resource groups: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

// RoleDefinitions lists role definitions visible at the scope.
func (c *Clients) RoleDefinitions(scope string) (Pager, error) {
	client, err := armauthorization.NewRoleDefinitionsClient(c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create role definitions client: %w", err)
	}
	pager := client.NewListPager(scope, nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list role definitions: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

// RoleAssignments lists the subscription's role assignments.
func (c *Clients) RoleAssignments(subscriptionID string) (Pager, error) {
	client, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments client: %w", err)
	}
	pager := client.NewListPager(nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list role assignments: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

// PolicyDefinitions lists the subscription's policy definitions.
func (c *Clients) PolicyDefinitions(subscriptionID string) (Pager, error) {
	client, err := armpolicy.NewDefinitionsClient(subscriptionID, c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy definitions client: %w", err)
	}
	pager := client.NewListPager(nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list policy definitions: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

// PolicyAssignments lists the subscription's policy assignments.
func (c *Clients) PolicyAssignments(subscriptionID string) (Pager, error) {
	client, err := armpolicy.NewAssignmentsClient(subscriptionID, c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy assignments client: %w", err)
	}
	pager := client.NewListPager(nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list policy assignments: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

// PolicyExemptions lists the subscription's policy exemptions.
func (c *Clients) PolicyExemptions(subscriptionID string) (Pager, error) {
	client, err := armpolicy.NewExemptionsClient(subscriptionID, c.cred, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy exemptions client: %w", err)
	}
	pager := client.NewListPager(nil)
	return funcPager{
		more: pager.More,
		next: func(ctx context.Context) (Page, error) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return Page{}, fmt.Errorf("failed to list policy exemptions: %w", err)
			}
			return pageFromSlice(page.Value)
		},
	}, nil
}

type funcPager struct {
	more func() bool
	next func(context.Context) (Page, error)
}

func (p funcPager) More() bool { return p.more() }

func (p funcPager) NextPage(ctx context.Context) (Page, error) { return p.next(ctx) }

func pageFromSlice[T any](values []*T) (Page, error) {
	items := make([]map[string]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		record, err := toRecord(v)
		if err != nil {
			return Page{}, err
		}
		items = append(items, record)
	}
	return Page{Items: items}, nil
}

// toRecord flattens an SDK model to the raw JSON object shape the pipeline
// carries, reusing the model's own wire tags.
func toRecord(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return record, nil
}
