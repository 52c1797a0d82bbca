package export

import (
	"strings"

	"github.com/cometsec/comet/pkg/types"
)

// staticKind keys every record of an entity to one cleaning rule.
func staticKind(kind string) func(map[string]any) string {
	return func(map[string]any) string { return kind }
}

// recordTypeKind keys ARM records by their own type discriminator.
func recordTypeKind(record map[string]any) string {
	if t, ok := record["type"].(string); ok {
		return t
	}
	return ""
}

// decorateResource fills the ARM envelope metadata common to resource
// records: the type tag and the owning resource group.
func decorateResource(env *types.Envelope, record map[string]any) {
	if t, ok := record["type"].(string); ok {
		env.ResourceType = strings.ToLower(t)
	}
	if id, ok := record["id"].(string); ok {
		env.ResourceGroup = resourceGroupFromID(id)
	}
}

// resourceGroupFromID extracts the resource group segment of an ARM id,
// or "" when the id has none (tenant and subscription level resources).
func resourceGroupFromID(id string) string {
	segments := strings.Split(id, "/")
	for i := 0; i+1 < len(segments); i++ {
		if strings.EqualFold(segments[i], "resourceGroups") {
			return segments[i+1]
		}
	}
	return ""
}

func lowerSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
