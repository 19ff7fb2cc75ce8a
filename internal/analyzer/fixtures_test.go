package analyzer

import (
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/elys-network/poolmigrator/internal/types"
)

var (
	atom = types.Token{Symbol: "ATOM", Denom: "uatom", Decimals: 6, PriceUSD: 10}
	usdc = types.Token{Symbol: "USDC", Denom: "uusdc", Decimals: 6, PriceUSD: 1}
	osmo = types.Token{Symbol: "OSMO", Denom: "uosmo", Decimals: 6, PriceUSD: 0.5}
)

func testParams() types.MigrationParameters {
	return types.MigrationParameters{
		MaxRoutes:               10,
		RouteCacheTTL:           time.Minute,
		RouteCacheMaxSize:       100,
		MinLiquidityRatio:       10,
		FeeDegradationThreshold: 0.005,
		MinCompatibilityScore:   0.5,
		GasCostPerOperationUSD:  0.05,
		OperationDuration:       6 * time.Second,
	}
}

func pool(id types.PoolID, a, b types.Token, tvl, fee float64) types.Pool {
	return types.Pool{
		ID:          id,
		TokenA:      a,
		TokenB:      b,
		BalanceA:    sdkmath.NewInt(1_000_000_000_000),
		BalanceB:    sdkmath.NewInt(1_000_000_000_000),
		TotalShares: sdkmath.NewInt(1_000_000_000),
		TvlUSD:      tvl,
		SwapFee:     fee,
	}
}

// testPools: 1 is the source, 2 a deeper copy, 3 too thin, 4 and 5 bridge each other.
func testPools() []types.Pool {
	return []types.Pool{
		pool(1, atom, usdc, 1_000_000, 0.003),
		pool(2, atom, usdc, 5_000_000, 0.002),
		pool(3, atom, usdc, 10_000, 0.002),
		pool(4, atom, osmo, 2_000_000, 0.003),
		pool(5, usdc, osmo, 3_000_000, 0.002),
	}
}

// testPosition is worth 2000 USD: 100 ATOM and 1000 USDC.
func testPosition() types.Position {
	return types.Position{
		ID:          "pos-1",
		Owner:       "elys1owner",
		PoolID:      1,
		TokenA:      atom,
		TokenB:      usdc,
		Liquidity:   sdkmath.NewInt(50_000),
		AmountA:     sdkmath.NewInt(100_000_000),
		AmountB:     sdkmath.NewInt(1_000_000_000),
		AccruedFees: sdktypes.NewCoins(sdktypes.NewInt64Coin("uusdc", 1_500_000)),
		Active:      true,
	}
}
