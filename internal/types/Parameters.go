/*

This file contains the tunable parameters for route discovery, planning and execution.

*/

package types

import "time"

// MigrationParameters holds every threshold and timing constant the engine uses.
// Engine instances receive their own copy; nothing reads these from globals.
type MigrationParameters struct {
	// --- Route Discovery ---
	MaxRoutes         int           `json:"max_routes"`          // Routes returned after sorting.
	RouteCacheTTL     time.Duration `json:"route_cache_ttl"`     // Lifetime of cached discovery and assessment results.
	RouteCacheMaxSize int           `json:"route_cache_max_size"` // Entries kept before the oldest is evicted.

	// --- Compatibility ---
	MinLiquidityRatio       float64 `json:"min_liquidity_ratio"`       // Target TVL must be at least this multiple of the position value.
	FeeDegradationThreshold float64 `json:"fee_degradation_threshold"` // Max absolute swap fee increase (e.g., 0.005 for 0.5 points).
	MinCompatibilityScore   float64 `json:"min_compatibility_score"`   // Below this a candidate is not compatible.

	// --- Cost Estimation ---
	GasCostPerOperationUSD float64       `json:"gas_cost_per_operation_usd"` // Flat network cost per dispatched operation.
	OperationDuration      time.Duration `json:"operation_duration"`         // Expected time to confirm one operation.

	// --- Execution ---
	InterStepDelay       time.Duration `json:"inter_step_delay"`       // Fixed throttle between dispatched steps.
	DependencyTimeout    time.Duration `json:"dependency_timeout"`     // Max wait for a step's dependencies to complete.
	DependencyPollPeriod time.Duration `json:"dependency_poll_period"` // How often the dependency wait re-checks the completed set.
	CriticalFailureKinds []FailureKind `json:"critical_failure_kinds"` // Failures that are irrecoverable regardless of step criticality.

	// --- Rollback ---
	EmergencyContacts []string `json:"emergency_contacts,omitempty"`
}

// IsCriticalFailure reports whether kind is in the irrecoverable set.
func (p MigrationParameters) IsCriticalFailure(kind FailureKind) bool {
	for _, k := range p.CriticalFailureKinds {
		if k == kind {
			return true
		}
	}
	return false
}
