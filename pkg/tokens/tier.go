package tokens

import "strings"

// Tier is a subscription level. The wire values use the product
// spellings, so they are data, not identifiers.
type Tier string

const (
	TierFree      Tier = "free"
	TierEssential Tier = "essæntial"
	TierFamily    Tier = "fæmily"
	TierLegacy    Tier = "legacy"
)

// TierConfig is the per-tier grant shape: monthly Tokæn allocation plus
// the free header-animation quota that sits outside the token balance.
type TierConfig struct {
	Allocation int
	FreeAnims  int
}

var tierConfigs = map[Tier]TierConfig{
	TierFree:      {Allocation: 0, FreeAnims: 0},
	TierEssential: {Allocation: 0, FreeAnims: 10},
	TierFamily:    {Allocation: 4000, FreeAnims: 0},
	TierLegacy:    {Allocation: 12000, FreeAnims: 0},
}

// ConfigFor returns the grant configuration for a tier.
// Unknown tiers resolve to the free tier; callers validate first.
func ConfigFor(t Tier) TierConfig {
	if cfg, ok := tierConfigs[t]; ok {
		return cfg
	}
	return tierConfigs[TierFree]
}

// ParseTier normalizes a wire value into a Tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	_, ok := tierConfigs[t]
	return t, ok
}

// Tiers returns the closed set of known tiers.
func Tiers() []Tier {
	return []Tier{TierFree, TierEssential, TierFamily, TierLegacy}
}
