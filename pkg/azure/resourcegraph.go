package azure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
)

// ARGQueryOptions represents options for executing a Resource Graph query
type ARGQueryOptions struct {
	// Subscriptions to query. If nil, queries all accessible subscriptions
	Subscriptions []string
	// Maximum number of records to return. If 0, uses default (100)
	Top int32
	// Skip first N records
	Skip int32
	// Format for the results (defaults to ObjectArray)
	ResultFormat armresourcegraph.ResultFormat
}

// ARGClient wraps the Resource Graph client for easier use
type ARGClient struct {
	client *armresourcegraph.Client
	logger *slog.Logger
}

// NewARGClient creates a Resource Graph client on the given credential
func NewARGClient(cred azcore.TokenCredential) (*ARGClient, error) {
	client, err := armresourcegraph.NewClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource graph client: %w", err)
	}

	return &ARGClient{
		client: client,
		logger: slog.Default().With("component", "ARGClient"),
	}, nil
}

// ExecuteQuery runs a query with the given options
func (c *ARGClient) ExecuteQuery(ctx context.Context, query string, opts *ARGQueryOptions) (*armresourcegraph.ClientResourcesResponse, error) {
	if opts == nil {
		opts = &ARGQueryOptions{
			ResultFormat: armresourcegraph.ResultFormatObjectArray,
		}
	}

	options := &armresourcegraph.QueryRequestOptions{
		ResultFormat: to.Ptr(opts.ResultFormat),
	}
	if opts.Top > 0 {
		options.Top = to.Ptr(opts.Top)
	}
	if opts.Skip > 0 {
		options.Skip = to.Ptr(opts.Skip)
	}

	var subPtrs []*string
	for _, sub := range opts.Subscriptions {
		subPtrs = append(subPtrs, to.Ptr(sub))
	}

	request := armresourcegraph.QueryRequest{
		Query:         &query,
		Options:       options,
		Subscriptions: subPtrs,
	}

	response, err := c.client.Resources(ctx, request, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to execute resource graph query: %w", err)
	}

	return &response, nil
}

// ExecutePaginatedQuery executes a query and handles pagination automatically
func (c *ARGClient) ExecutePaginatedQuery(ctx context.Context, query string, opts *ARGQueryOptions, callback func(response *armresourcegraph.ClientResourcesResponse) error) error {
	if opts == nil {
		opts = &ARGQueryOptions{
			ResultFormat: armresourcegraph.ResultFormatObjectArray,
		}
	}

	var skip int32 = 0
	for {
		currentOpts := *opts
		currentOpts.Skip = skip

		response, err := c.ExecuteQuery(ctx, query, &currentOpts)
		if err != nil {
			return err
		}

		if err := callback(response); err != nil {
			return err
		}

		if response.TotalRecords == nil || response.Count == nil ||
			int64(skip) >= *response.TotalRecords || *response.Count == 0 {
			break
		}

		skip += int32(*response.Count)
	}

	return nil
}

// Common summary queries
const (
	QueryResourcesByType = "Resources | summarize count=count() by type, location | order by type asc"

	QueryResourcesByLocation = "Resources | summarize count=count() by location, type | order by location asc"
)

// GetResourceSummaryByType counts resources grouped by type and location,
// optionally narrowed to one subscription.
func (c *ARGClient) GetResourceSummaryByType(ctx context.Context, subscriptionID string) (*armresourcegraph.ClientResourcesResponse, error) {
	query := QueryResourcesByType
	opts := &ARGQueryOptions{ResultFormat: armresourcegraph.ResultFormatObjectArray}
	if subscriptionID != "" {
		query = fmt.Sprintf("Resources | where subscriptionId == '%s' | summarize count=count() by type, location | order by type asc", subscriptionID)
		opts.Subscriptions = []string{subscriptionID}
	}

	return c.ExecuteQuery(ctx, query, opts)
}

// QueryRows flattens a response's data into row maps. Rows that are not
// objects are skipped.
func QueryRows(response *armresourcegraph.ClientResourcesResponse) []map[string]any {
	if response == nil || response.Data == nil {
		return nil
	}
	raw, ok := response.Data.([]any)
	if !ok {
		return nil
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, row := range raw {
		if item, ok := row.(map[string]any); ok {
			rows = append(rows, item)
		}
	}
	return rows
}

// SummarizeByType folds a summary response into type → count.
func SummarizeByType(response *armresourcegraph.ClientResourcesResponse) map[string]int {
	resourceMap := make(map[string]int)
	for _, item := range QueryRows(response) {
		resourceType, ok := item["type"].(string)
		if !ok {
			continue
		}
		count, ok := item["count"].(float64)
		if !ok {
			continue
		}
		resourceMap[resourceType] += int(count)
	}
	return resourceMap
}
