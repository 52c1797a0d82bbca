package export

// childCollection names one child listing under a parent resource and the
// management API version that serves it.
type childCollection struct {
	collection string
	apiVersion string
}

// childCollections maps lowercased parent resource types to the child
// collections exported for them. Only types listed here take part in the
// child-resource fan-out.
var childCollections = map[string][]childCollection{
	"microsoft.compute/virtualmachines": {
		{"extensions", "2024-03-01"},
	},
	"microsoft.storage/storageaccounts": {
		{"blobServices", "2023-05-01"},
		{"fileServices", "2023-05-01"},
		{"queueServices", "2023-05-01"},
		{"tableServices", "2023-05-01"},
	},
	"microsoft.network/virtualnetworks": {
		{"subnets", "2024-01-01"},
		{"virtualNetworkPeerings", "2024-01-01"},
	},
	"microsoft.network/networksecuritygroups": {
		{"securityRules", "2024-01-01"},
	},
	"microsoft.sql/servers": {
		{"databases", "2023-08-01-preview"},
		{"firewallRules", "2023-08-01-preview"},
	},
	"microsoft.keyvault/vaults": {
		{"keys", "2023-07-01"},
	},
	"microsoft.web/sites": {
		{"slots", "2023-12-01"},
	},
	"microsoft.documentdb/databaseaccounts": {
		{"sqlDatabases", "2024-05-15"},
	},
	"microsoft.containerregistry/registries": {
		{"replications", "2023-07-01"},
	},
}

// parentResource is a resource whose children the fan-out visits.
type parentResource struct {
	id           string
	resourceType string
	group        string
}
