package report

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/types"
)

func sampleResult() types.RunResult {
	return types.RunResult{
		ExportID:   "op-123",
		TenantID:   "tenant-1",
		TenantName: "Contoso",
		StartTime:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Duration:   90 * time.Second,
		Stats:      types.Stats{Processed: 1200, Succeeded: 1195, Failed: 5, Batches: 9, PayloadBytes: 1 << 20},
		Scopes: []types.ScopeResult{
			{
				Scope:   types.Scope{Kind: types.ScopeDirectory, TenantID: "tenant-1"},
				Success: true,
				Stats:   types.Stats{Processed: 1000, Succeeded: 1000, Batches: 6},
				Entities: []types.EntityResult{
					{Entity: "users", Success: true, Stats: types.Stats{Processed: 800}},
					{Entity: "groups", Success: true, Stats: types.Stats{Processed: 200}},
				},
			},
			{
				Scope:   types.Scope{Kind: types.ScopeSubscription, TenantID: "tenant-1", SubscriptionID: "sub-1"},
				Success: false,
				Err:     &azure.StatusError{StatusCode: http.StatusForbidden, Status: "403 Forbidden", URL: "management"},
				Stats:   types.Stats{Processed: 200, Succeeded: 195, Failed: 5, Batches: 3},
			},
		},
	}
}

func TestNewFlattensErrorsWithClassification(t *testing.T) {
	doc := New(sampleResult())

	assert.False(t, doc.Success)
	assert.Equal(t, 1, doc.FailedScopes)
	require.Len(t, doc.Scopes, 2)

	assert.True(t, doc.Scopes[0].Success)
	assert.Nil(t, doc.Scopes[0].Error)
	require.Len(t, doc.Scopes[0].Entities, 2)

	failed := doc.Scopes[1]
	require.NotNil(t, failed.Error)
	assert.Equal(t, "authorization", failed.Error.Category)
	assert.True(t, failed.Error.Fatal)
	assert.False(t, failed.Error.Retryable)
	assert.Contains(t, failed.Error.Remediation, "Reader role")
}

func TestNewOmitsZeroLastRun(t *testing.T) {
	doc := New(sampleResult())
	assert.Nil(t, doc.LastSuccessfulRun)

	result := sampleResult()
	result.LastSuccessfulRun = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	doc = New(result)
	require.NotNil(t, doc.LastSuccessfulRun)
	assert.Equal(t, result.LastSuccessfulRun, *doc.LastSuccessfulRun)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	doc := New(sampleResult())
	require.NoError(t, doc.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, doc.ExportID, decoded.ExportID)
	assert.Equal(t, doc.Stats, decoded.Stats)
	require.Len(t, decoded.Scopes, 2)
	require.NotNil(t, decoded.Scopes[1].Error)
	assert.Equal(t, "authorization", decoded.Scopes[1].Error.Category)
}
