package config

import (
	"sort"

	"github.com/cometsec/comet/pkg/types"
)

// Scopes returns the ordered targets for a run: the directory scope first,
// then each enabled subscription by ascending priority. Ties keep file
// order.
func (c *Config) Scopes() []types.Scope {
	scopes := []types.Scope{{
		Kind:     types.ScopeDirectory,
		TenantID: c.TenantID,
	}}

	subs := make([]Subscription, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		if s.IsEnabled() {
			subs = append(subs, s)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Priority < subs[j].Priority })

	for _, s := range subs {
		scopes = append(scopes, types.Scope{
			Kind:           types.ScopeSubscription,
			TenantID:       c.TenantID,
			SubscriptionID: s.ID,
			DisplayName:    s.Name,
		})
	}
	return scopes
}
