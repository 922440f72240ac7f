// Package tier maps subscription tiers to connection limits.
//
// The gate is advisory on the client path (it routes to an upsell instead of
// the wizard) and authoritative inside the creation service: a
// server-rejected creation is ground truth even if the local gate passed.
package tier

import "github.com/mcpgrid/connectd/pkg/models"

// Unlimited marks a tier with no connection cap.
const Unlimited = -1

var limits = map[models.Tier]int{
	models.TierFree:       5,
	models.TierPro:        20,
	models.TierTeam:       50,
	models.TierEnterprise: Unlimited,
}

// Limit returns the maximum number of active connections for a tier, or
// Unlimited. Unknown tiers get the free limit.
func Limit(t models.Tier) int {
	if l, ok := limits[t]; ok {
		return l
	}
	return limits[models.TierFree]
}

// CanCreate reports whether a tenant at the given tier with count active
// connections may create another.
func CanCreate(t models.Tier, count int) bool {
	l := Limit(t)
	return l == Unlimited || count < l
}
