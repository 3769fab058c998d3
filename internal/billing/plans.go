// Package billing provides subscription plan management for scheduled
// payments.
package billing

import (
	"paysched/internal/config"
	"paysched/internal/types"
)

// PlanRegistry defines the authoritative limits for each subscription tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (basic) limits to
	// fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a plan registry backed by an in-memory map built once
// from configuration. It implements PlanRegistry and is the standard
// implementation for production use.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// NewStaticPlanRegistry returns a PlanRegistry built from the subscription
// configuration. Pro uses 0 to represent "unlimited" -- enforcement code
// treats 0 as no limit.
func NewStaticPlanRegistry(cfg config.SubscriptionConfig) PlanRegistry {
	return &staticPlanRegistry{
		limits: map[types.PlanTier]types.PlanLimits{
			types.TierBasic: {MaxActivePayments: cfg.Basic},
			types.TierMid:   {MaxActivePayments: cfg.Mid},
			types.TierPro:   {MaxActivePayments: cfg.Pro},
		},
	}
}

// GetLimits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the basic tier limits as a safe default.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return r.limits[types.TierBasic]
}
