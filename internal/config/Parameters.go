/*

This file contains the default parameters for the migrator.

The defaults favour capital preservation: a migration that is skipped costs nothing, a migration
that strands liquidity half way costs a manual recovery.

*/

package config

import (
	"time"

	"github.com/elys-network/poolmigrator/internal/types"
)

// DefaultMigrationParameters provides the baseline parameters for route discovery, planning and execution.
// Individual values can be overridden from the environment by LoadConfig.
var DefaultMigrationParameters = types.MigrationParameters{
	// --- Route Discovery ---
	MaxRoutes: 10, // Keep only the top 10 candidates.
	// Rationale: every returned route gets assessed and possibly planned; bounding the list keeps that cheap.

	RouteCacheTTL: 5 * time.Minute,
	// Rationale: pool reserves move slowly relative to a user deciding on a migration.
	// A stale entry only costs a recomputation.

	RouteCacheMaxSize: 1024,

	// --- Compatibility ---
	MinLiquidityRatio: 10.0, // Target pool must hold at least 10x the position value.
	// Rationale: below this the deposit itself moves the pool price and slippage becomes unacceptable.

	FeeDegradationThreshold: 0.005, // Allow the target swap fee to be at most 0.5 points higher.

	MinCompatibilityScore: 0.5,

	// --- Cost Estimation ---
	GasCostPerOperationUSD: 0.05,
	OperationDuration:      6 * time.Second, // Roughly one block.

	// --- Execution ---
	InterStepDelay: 2 * time.Second,
	// Rationale: coarse throttle so consecutive operations land in separate blocks.

	DependencyTimeout:    2 * time.Minute,
	DependencyPollPeriod: 250 * time.Millisecond,

	CriticalFailureKinds: []types.FailureKind{
		types.FailureInsufficientFunds,
		types.FailurePoolNotFound,
		types.FailurePositionNotFound,
	},
	// Rationale: none of these can be fixed by continuing; every later step would act on missing state.
}
