package analyzer

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
)

func TestAssess_NilTargetIsIncompatible(t *testing.T) {
	a := NewAssessor(testParams())

	result := a.Assess(testPosition(), nil, nil)

	assert.False(t, result.Compatible)
	assert.Zero(t, result.Score)
	assert.NotEmpty(t, result.Warnings)
}

func TestAssess_InvalidTargetIsIncompatible(t *testing.T) {
	a := NewAssessor(testParams())
	source := testPools()[0]

	broken := pool(9, atom, usdc, 1_000_000, 0.002)
	broken.BalanceA = sdkmath.Int{}

	result := a.Assess(testPosition(), &broken, &source)

	assert.False(t, result.Compatible)
	assert.Zero(t, result.Score)
	assert.Equal(t, broken.ID, result.PoolID)
	assert.Len(t, result.Warnings, 1)
}

func TestAssess_SamePairDeepPool(t *testing.T) {
	a := NewAssessor(testParams())
	pools := testPools()

	result := a.Assess(testPosition(), &pools[1], &pools[0])

	assert.True(t, result.Compatible)
	assert.True(t, result.TokenMatch)
	assert.True(t, result.LiquidityAdequate)
	assert.True(t, result.FeeCompatible)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestAssess_ThinPoolFailsLiquidity(t *testing.T) {
	a := NewAssessor(testParams())
	pools := testPools()

	result := a.Assess(testPosition(), &pools[2], &pools[0])

	assert.False(t, result.Compatible)
	assert.False(t, result.LiquidityAdequate)
	assert.NotEmpty(t, result.Recommendations)
	assert.GreaterOrEqual(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 1.0)
}

func TestAssess_FeeDegradation(t *testing.T) {
	a := NewAssessor(testParams())
	source := testPools()[0]
	expensive := pool(6, atom, usdc, 5_000_000, 0.02)

	result := a.Assess(testPosition(), &expensive, &source)
	assert.False(t, result.FeeCompatible)
	assert.False(t, result.Compatible)

	// a better fee yield compensates for the higher swap fee
	expensive.FeesAPR = 0.2
	result = a.Assess(testPosition(), &expensive, &source)
	assert.True(t, result.FeeCompatible)
}

func TestAssess_MissingSourceSkipsFeeComparison(t *testing.T) {
	a := NewAssessor(testParams())
	target := testPools()[1]

	result := a.Assess(testPosition(), &target, nil)

	assert.True(t, result.FeeCompatible)
	assert.Contains(t, result.Warnings, "source pool data unavailable; fee comparison skipped")
}

func TestAssess_PartialOverlapWarns(t *testing.T) {
	a := NewAssessor(testParams())
	pools := testPools()

	result := a.Assess(testPosition(), &pools[3], &pools[0])

	assert.False(t, result.TokenMatch)
	assert.True(t, result.Compatible)
	assert.Less(t, result.Score, 1.0)
}

func TestAssess_ScoresStayInUnitInterval(t *testing.T) {
	a := NewAssessor(testParams())
	pools := testPools()
	source := pools[0]

	for i := range pools {
		result := a.Assess(testPosition(), &pools[i], &source)
		assert.GreaterOrEqual(t, result.Score, 0.0, "pool %d", pools[i].ID)
		assert.LessOrEqual(t, result.Score, 1.0, "pool %d", pools[i].ID)
	}
}
