// Package azure wraps credential acquisition, paged REST fetching and the
// ARM SDK clients the exporters enumerate with.
package azure

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Audiences for the three API families the exporter talks to.
const (
	AudienceManagement = "https://management.azure.com"
	AudienceGraph      = "https://graph.microsoft.com"
	AudienceEventHubs  = "https://eventhubs.azure.net"
)

// TokenSource hands out bearer tokens per audience.
type TokenSource interface {
	Token(ctx context.Context, audience string) (string, error)
}

// Credential builds the process credential: workload identity when a
// federated token file is mounted, the default chain otherwise.
func Credential(tenantID, clientID string) (azcore.TokenCredential, error) {
	if os.Getenv("AZURE_FEDERATED_TOKEN_FILE") != "" {
		opts := &azidentity.WorkloadIdentityCredentialOptions{
			TenantID: tenantID,
			ClientID: clientID,
		}
		cred, err := azidentity.NewWorkloadIdentityCredential(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build workload identity credential: %w", err)
		}
		return cred, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		TenantID: tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build default credential: %w", err)
	}
	return cred, nil
}

// Provider implements TokenSource on an azidentity credential. The
// credential caches and refreshes tokens internally, so asking for a token
// per request is fine.
type Provider struct {
	cred azcore.TokenCredential
}

func NewProvider(cred azcore.TokenCredential) *Provider {
	return &Provider{cred: cred}
}

// Token acquires a bearer token for the audience.
func (p *Provider) Token(ctx context.Context, audience string) (string, error) {
	tk, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{Scope(audience)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to acquire token for %s: %w", audience, err)
	}
	return tk.Token, nil
}

// Scope maps an audience to its OAuth2 scope.
func Scope(audience string) string {
	return strings.TrimSuffix(audience, "/") + "/.default"
}
