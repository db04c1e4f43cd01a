package domain

import "strings"

// Tier is a canonical subscription plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierProPlus    Tier = "pro_plus"
	TierEnterprise Tier = "enterprise"
)

// ResolveTier maps a free-text plan name to a tier. More specific tiers are
// checked first since "pro" is a substring of "pro_plus".
func ResolveTier(name string) Tier {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)

	switch {
	case strings.Contains(n, "enterprise"):
		return TierEnterprise
	case strings.Contains(n, "pro_plus"), strings.Contains(n, "proplus"):
		return TierProPlus
	case strings.Contains(n, "pro"):
		return TierPro
	case strings.Contains(n, "basic"):
		return TierBasic
	default:
		return TierFree
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierProPlus, TierEnterprise:
		return true
	}
	return false
}
