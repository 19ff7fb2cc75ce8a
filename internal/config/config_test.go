package config

import (
	"os"
	"testing"
	"time"

	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var optionalKeys = []string{
	"MIGRATOR_EXCLUDED_POOLS", "MIGRATOR_MIN_TARGET_LIQUIDITY_USD", "MIGRATOR_MAX_SLIPPAGE",
	"MIGRATOR_MAX_COST_USD", "MIGRATOR_PRIORITY", "MIGRATOR_SWEEP_INTERVAL", "MIGRATOR_ALLOW_HIGH_RISK",
	"FEE_DENOM", "FEE_DECIMALS", "FEE_PRICE_USD", "MAX_ROUTES", "ROUTE_CACHE_TTL", "INTER_STEP_DELAY",
	"DEPENDENCY_TIMEOUT", "EMERGENCY_CONTACTS", "NODE_RPC", "NODE_GRPC", "SIGNER_API", "REDIS_ADDR",
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func setDryRunEnv(t *testing.T) {
	for _, key := range optionalKeys {
		unsetEnv(t, key)
	}
	t.Setenv("MIGRATOR_MODE", "dryrun")
	t.Setenv("MIGRATOR_OWNER", "elys1owner")
	t.Setenv("INDEXER_API", "http://indexer:8080")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setDryRunEnv(t)

	require.NoError(t, LoadConfig())

	assert.Equal(t, "dryrun", Mode)
	assert.Equal(t, "elys1owner", Owner)
	assert.Empty(t, ExcludedPools)
	assert.Equal(t, types.Preferences{MaxSlippage: 0.01, MaxCostUSD: 5.0, Priority: types.PriorityBalanced, BuildRollback: true}, Preferences)
	assert.Equal(t, DefaultMigrationParameters.RouteCacheTTL, Parameters.RouteCacheTTL)
	assert.Equal(t, DefaultMigrationParameters.MaxRoutes, Parameters.MaxRoutes)
	assert.Zero(t, SweepInterval)
	assert.False(t, AllowHighRisk)
	assert.Equal(t, "uelys", FeeToken.Denom)
	assert.Equal(t, 6, FeeToken.Decimals)
	assert.Equal(t, "http://indexer:8080", IndexerAPI)
	assert.Empty(t, RedisAddr)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setDryRunEnv(t)
	t.Setenv("MIGRATOR_EXCLUDED_POOLS", "3, 7,11")
	t.Setenv("MIGRATOR_MIN_TARGET_LIQUIDITY_USD", "25000")
	t.Setenv("MIGRATOR_MAX_SLIPPAGE", "0.02")
	t.Setenv("MIGRATOR_PRIORITY", "safety")
	t.Setenv("MIGRATOR_SWEEP_INTERVAL", "15m")
	t.Setenv("MIGRATOR_ALLOW_HIGH_RISK", "true")
	t.Setenv("FEE_PRICE_USD", "1.25")
	t.Setenv("MAX_ROUTES", "3")
	t.Setenv("INTER_STEP_DELAY", "500ms")
	t.Setenv("EMERGENCY_CONTACTS", "ops@example.com,oncall@example.com")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	require.NoError(t, LoadConfig())

	assert.Equal(t, []types.PoolID{3, 7, 11}, ExcludedPools)
	assert.InDelta(t, 25000, MinTargetLiquidityUSD, 1e-9)
	assert.InDelta(t, 0.02, Preferences.MaxSlippage, 1e-12)
	assert.Equal(t, types.PrioritySafety, Preferences.Priority)
	assert.Equal(t, 15*time.Minute, SweepInterval)
	assert.True(t, AllowHighRisk)
	assert.InDelta(t, 1.25, FeeToken.PriceUSD, 1e-12)
	assert.Equal(t, 3, Parameters.MaxRoutes)
	assert.Equal(t, 500*time.Millisecond, Parameters.InterStepDelay)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, Parameters.EmergencyContacts)
	assert.Equal(t, "localhost:6379", RedisAddr)
	assert.Empty(t, DefaultMigrationParameters.EmergencyContacts, "defaults are not mutated")
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T)
	}{
		{"missing mode", func(t *testing.T) { unsetEnv(t, "MIGRATOR_MODE") }},
		{"unknown mode", func(t *testing.T) { t.Setenv("MIGRATOR_MODE", "paper") }},
		{"missing owner", func(t *testing.T) { unsetEnv(t, "MIGRATOR_OWNER") }},
		{"missing indexer", func(t *testing.T) { unsetEnv(t, "INDEXER_API") }},
		{"bad pool list", func(t *testing.T) { t.Setenv("MIGRATOR_EXCLUDED_POOLS", "3,x") }},
		{"bad float", func(t *testing.T) { t.Setenv("MIGRATOR_MAX_COST_USD", "cheap") }},
		{"bad duration", func(t *testing.T) { t.Setenv("ROUTE_CACHE_TTL", "5 minutes") }},
		{"negative duration", func(t *testing.T) { t.Setenv("INTER_STEP_DELAY", "-1s") }},
		{"bad int", func(t *testing.T) { t.Setenv("MAX_ROUTES", "ten") }},
		{"live without signer", func(t *testing.T) {
			t.Setenv("MIGRATOR_MODE", "live")
			t.Setenv("NODE_RPC", "http://node:26657")
			t.Setenv("NODE_GRPC", "node:9090")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDryRunEnv(t)
			tt.setup(t)
			assert.Error(t, LoadConfig())
		})
	}
}

func TestLoadConfig_LiveEndpoints(t *testing.T) {
	setDryRunEnv(t)
	t.Setenv("MIGRATOR_MODE", "live")
	t.Setenv("NODE_RPC", "http://node:26657")
	t.Setenv("NODE_GRPC", "node:9090")
	t.Setenv("SIGNER_API", "http://signer:7000")

	require.NoError(t, LoadConfig())

	assert.Equal(t, "http://node:26657", NodeRPC)
	assert.Equal(t, "node:9090", NodeGRPC)
	assert.Equal(t, "http://signer:7000", SignerAPI)
}
