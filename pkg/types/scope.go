package types

import "fmt"

// ScopeKind distinguishes directory-wide exports from per-subscription ones.
type ScopeKind string

const (
	ScopeDirectory    ScopeKind = "directory"
	ScopeSubscription ScopeKind = "subscription"
)

// Scope identifies one target the exporter runs against: the whole directory
// (tenant) or a single subscription within it.
type Scope struct {
	Kind           ScopeKind `json:"kind"`
	TenantID       string    `json:"tenantId"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	DisplayName    string    `json:"displayName,omitempty"`
}

// ID returns the identifier records are attributed to: the subscription ID
// for subscription scopes, the tenant ID otherwise.
func (s Scope) ID() string {
	if s.Kind == ScopeSubscription {
		return s.SubscriptionID
	}
	return s.TenantID
}

func (s Scope) String() string {
	if s.DisplayName != "" {
		return fmt.Sprintf("%s %s (%s)", s.Kind, s.ID(), s.DisplayName)
	}
	return fmt.Sprintf("%s %s", s.Kind, s.ID())
}
