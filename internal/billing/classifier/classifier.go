// Package classifier decides which billing model a provider price or plan
// identifier belongs to. Usage-based prices are provisioned with a fixed
// prefix; everything else is a legacy fixed-price plan.
//
// Legacy subscription handlers must no-op on metered subscriptions: the
// metered checkout flow does not populate the metadata the legacy path
// reads, and acting on those events would corrupt tier state. Metered tier
// and period changes arrive only through checkout.session.completed.
package classifier

import "strings"

const (
	MeteredPricePrefix = "price_metered_"
	MeteredPlanPrefix  = "plan_metered_"
)

func IsMetered(priceOrPlanID string) bool {
	id := strings.TrimSpace(priceOrPlanID)
	return strings.HasPrefix(id, MeteredPricePrefix) || strings.HasPrefix(id, MeteredPlanPrefix)
}
