/*

This file contains the types produced by route discovery and compatibility assessment.

*/

package types

import "time"

// SwapHop is one intermediate swap needed when the target pool does not hold
// the same pair as the source pool.
type SwapHop struct {
	From              Token   `json:"from"`
	To                Token   `json:"to"`
	ViaPool           PoolID  `json:"via_pool"`
	EstimatedSlippage float64 `json:"estimated_slippage"`
}

// Route is a scored candidate migration path. Routes are immutable once returned.
type Route struct {
	ID                string        `json:"id"`
	SourcePoolID      PoolID        `json:"source_pool_id"`
	TargetPoolID      PoolID        `json:"target_pool_id"`
	EstimatedSlippage float64       `json:"estimated_slippage"` // Fraction, e.g. 0.005 for 0.5%
	EstimatedCostUSD  float64       `json:"estimated_cost_usd"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiresBridge    bool          `json:"requires_bridge"`
	Swaps             []SwapHop     `json:"swaps,omitempty"`
	Confidence        float64       `json:"confidence"` // 0.0 to 1.0
	Score             float64       `json:"score"`      // 0.7*confidence - 0.3*normalized cost
}

// RouteFilters narrows route discovery.
type RouteFilters struct {
	MinLiquidityUSD float64  `json:"min_liquidity_usd,omitempty"`
	ExcludedPools   []PoolID `json:"excluded_pools,omitempty"`
	MaxResults      int      `json:"max_results,omitempty"`
}

// IsExcluded reports whether the pool was excluded by the caller.
func (f RouteFilters) IsExcluded(id PoolID) bool {
	for _, excluded := range f.ExcludedPools {
		if excluded == id {
			return true
		}
	}
	return false
}

// Compatibility is the result of assessing a (position, target pool) pair.
type Compatibility struct {
	PoolID            PoolID   `json:"pool_id"`
	Compatible        bool     `json:"compatible"`
	Score             float64  `json:"score"` // 0.0 to 1.0
	TokenMatch        bool     `json:"token_match"`
	LiquidityAdequate bool     `json:"liquidity_adequate"`
	FeeCompatible     bool     `json:"fee_compatible"`
	Warnings          []string `json:"warnings,omitempty"`
	Recommendations   []string `json:"recommendations,omitempty"`
}
