package clean

// Rule lists dot-separated field paths removed from records of one type.
// Paths traverse nested objects only; a path whose segment is not an
// object is ignored for that record.
type Rule struct {
	Strip []string `yaml:"strip"`
}

// genericRule applies to every record regardless of type. These fields
// churn on every read or deployment and would defeat idempotent
// downstream ingestion.
var genericRule = Rule{Strip: []string{
	"@odata.etag",
	"etag",
	"systemData",
	"createdTime",
	"changedTime",
	"properties.provisioningState",
}}

// builtinRules is keyed by the lowercased type discriminator: the ARM
// resource type for resources, the entity kind for directory objects.
var builtinRules = map[string]Rule{
	"microsoft.compute/virtualmachines": {Strip: []string{
		"properties.instanceView",
		"properties.timeCreated",
	}},
	"microsoft.compute/disks": {Strip: []string{
		"properties.timeCreated",
		"properties.diskState",
		"properties.LastOwnershipUpdateTime",
	}},
	"microsoft.storage/storageaccounts": {Strip: []string{
		"properties.keyCreationTime",
		"properties.statusOfPrimary",
		"properties.statusOfSecondary",
		"properties.lastGeoFailoverTime",
	}},
	"microsoft.network/networkinterfaces": {Strip: []string{
		"properties.resourceGuid",
	}},
	"microsoft.network/networksecuritygroups": {Strip: []string{
		"properties.resourceGuid",
	}},
	"microsoft.network/virtualnetworks": {Strip: []string{
		"properties.resourceGuid",
	}},
	"microsoft.network/publicipaddresses": {Strip: []string{
		"properties.resourceGuid",
	}},
	"microsoft.web/sites": {Strip: []string{
		"properties.lastModifiedTimeUtc",
	}},
	"microsoft.containerservice/managedclusters": {Strip: []string{
		"properties.powerState",
	}},
	"microsoft.authorization/roledefinitions": {Strip: []string{
		"properties.createdOn",
		"properties.updatedOn",
		"properties.createdBy",
		"properties.updatedBy",
	}},
	"microsoft.authorization/roleassignments": {Strip: []string{
		"properties.createdOn",
		"properties.updatedOn",
		"properties.createdBy",
		"properties.updatedBy",
	}},
	"users": {Strip: []string{
		"refreshTokensValidFromDateTime",
		"signInSessionsValidFromDateTime",
	}},
	"groups": {Strip: []string{
		"renewedDateTime",
	}},
}
