package types

import "strings"

// PlanTier identifies an account's subscription tier as reported by the
// accounts service.
type PlanTier string

const (
	TierBasic PlanTier = "basic"
	TierMid   PlanTier = "mid"
	TierPro   PlanTier = "pro"
)

// NormalizeTier maps the free-form subscription string returned by the
// accounts service to a known tier. Unrecognized values default to the most
// restrictive tier.
func NormalizeTier(raw string) PlanTier {
	switch PlanTier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierBasic:
		return TierBasic
	case TierMid:
		return TierMid
	case TierPro:
		return TierPro
	default:
		return TierBasic
	}
}

// PlanLimits holds the resource limits attached to a subscription tier.
// A zero MaxActivePayments means unlimited; enforcement code must treat 0 as
// no limit.
type PlanLimits struct {
	MaxActivePayments int
}
