package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/organization"
)

// TenantDetails is the directory metadata stamped onto run reports.
type TenantDetails struct {
	Name string
	ID   string
}

// GetTenantDetails reads the organization object from Microsoft Graph.
// Fields the directory hides fall back to "Unknown".
func GetTenantDetails(ctx context.Context, cred azcore.TokenCredential) (TenantDetails, error) {
	graphClient, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, nil)
	if err != nil {
		return TenantDetails{}, fmt.Errorf("failed to create Graph client: %w", err)
	}

	org, err := graphClient.Organization().Get(ctx, &organization.OrganizationRequestBuilderGetRequestConfiguration{})
	if err != nil {
		return TenantDetails{}, fmt.Errorf("failed to get organization details: %w", err)
	}

	details := TenantDetails{Name: "Unknown", ID: "Unknown"}
	if orgValue := org.GetValue(); len(orgValue) > 0 {
		if displayName := orgValue[0].GetDisplayName(); displayName != nil {
			details.Name = *displayName
		}
		if id := orgValue[0].GetId(); id != nil {
			details.ID = *id
		}
	}
	return details, nil
}
