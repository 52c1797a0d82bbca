package types

// Envelope wraps one cleaned record with export metadata. One envelope per
// record; envelopes are grouped into size-bounded batches for transport.
type Envelope struct {
	ODataContext     string         `json:"odataContext"`
	ResourceType     string         `json:"resourceType,omitempty"`
	ResourceGroup    string         `json:"resourceGroup,omitempty"`
	ParentResourceID string         `json:"parentResourceId,omitempty"`
	TenantID         string         `json:"tenantId"`
	SubscriptionID   string         `json:"subscriptionId,omitempty"`
	ExportID         string         `json:"exportId"`
	ExportTimestamp  string         `json:"exportTimestamp"`
	Record           map[string]any `json:"record"`
}

// RecordID returns the wrapped record's identifier for diagnostics. ARM
// records carry "id", directory objects may only carry "objectId".
func (e *Envelope) RecordID() string {
	for _, key := range []string{"id", "objectId"} {
		if id, ok := e.Record[key].(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}
