/*

This file contains the compatibility assessment of one candidate pool for a position.

*/

package analyzer

import (
	"fmt"
	"math"

	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/utils"
	"github.com/rs/zerolog"
)

// Component weights of the compatibility score. They sum to 1.
const (
	tokenMatchWeight = 0.40
	liquidityWeight  = 0.35
	feeWeight        = 0.25
)

// Assessor scores candidate pools for a position. It never fails: bad
// candidate data yields an incompatible result with a warning.
type Assessor struct {
	params types.MigrationParameters
	logger zerolog.Logger
}

func NewAssessor(params types.MigrationParameters) *Assessor {
	return &Assessor{
		params: params,
		logger: logger.GetForComponent("compatibility_assessor"),
	}
}

// Assess scores target for position. source is the pool the position sits in
// and may be nil when it could not be read, in which case fee comparison is skipped.
func (a *Assessor) Assess(position types.Position, target *types.Pool, source *types.Pool) types.Compatibility {
	if target == nil {
		return incompatible(0, "target pool data is missing")
	}
	if err := validateCandidate(*target); err != nil {
		a.logger.Debug().Err(err).Uint64("poolID", uint64(target.ID)).Msg("Candidate pool failed validation")
		return incompatible(target.ID, err.Error())
	}

	result := types.Compatibility{PoolID: target.ID}

	// (a) token-set match
	shared := sharedWithPosition(position, *target)
	tokenScore := 0.2
	switch shared {
	case 2:
		tokenScore = 1.0
		result.TokenMatch = true
	case 1:
		tokenScore = 0.6
		result.Warnings = append(result.Warnings, "target pool shares one token with the position; one swap is required")
	default:
		result.Warnings = append(result.Warnings, "target pool shares no token with the position; a two-hop bridge is required")
	}

	// (b) liquidity adequacy
	positionValue, err := utils.PositionValueUSD(position)
	if err != nil {
		positionValue = 0
		result.Warnings = append(result.Warnings, fmt.Sprintf("position value could not be computed: %v", err))
	}
	liquidityScore, adequate := a.liquidityScore(positionValue, target.TvlUSD)
	result.LiquidityAdequate = adequate
	if !adequate {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("target TVL %.2f USD is below %.1fx the position value %.2f USD", target.TvlUSD, a.params.MinLiquidityRatio, positionValue))
		result.Recommendations = append(result.Recommendations, "migrate a smaller share of the position or pick a deeper pool")
	}

	// (c) fee-structure compatibility
	feeScore, feeCompatible := a.feeScore(*target, source)
	result.FeeCompatible = feeCompatible
	if source == nil {
		result.Warnings = append(result.Warnings, "source pool data unavailable; fee comparison skipped")
	} else if !feeCompatible {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("target swap fee %.4f exceeds source %.4f by more than %.4f", target.SwapFee, source.SwapFee, a.params.FeeDegradationThreshold))
	} else if target.FeesAPR > source.FeesAPR {
		result.Recommendations = append(result.Recommendations, "target pool pays a higher fee yield")
	}

	result.Score = utils.ClampUnit(tokenMatchWeight*tokenScore + liquidityWeight*liquidityScore + feeWeight*feeScore)
	result.Compatible = adequate && feeCompatible && result.Score >= a.params.MinCompatibilityScore

	a.logger.Debug().
		Str("positionID", position.ID).
		Uint64("poolID", uint64(target.ID)).
		Int("sharedTokens", shared).
		Float64("tokenScore", tokenScore).
		Float64("liquidityScore", liquidityScore).
		Float64("feeScore", feeScore).
		Float64("score", result.Score).
		Bool("compatible", result.Compatible).
		Msg("Compatibility assessed")

	return result
}

// liquidityScore maps the TVL/position ratio to [0,1]. Half the score is earned at the minimum ratio.
func (a *Assessor) liquidityScore(positionValue, tvl float64) (float64, bool) {
	if positionValue <= 0 {
		return 1.0, true
	}
	minRatio := a.params.MinLiquidityRatio
	if minRatio <= 0 {
		minRatio = 1
	}
	ratio := tvl / positionValue
	if ratio < minRatio {
		return utils.ClampUnit(0.5 * ratio / minRatio), false
	}
	return utils.ClampUnit(0.5 + 0.5*math.Min(1, ratio/(minRatio*10))), true
}

// feeScore rewards a cheaper or equal fee and rejects a degradation beyond the threshold
// unless the target's fee yield compensates for it.
func (a *Assessor) feeScore(target types.Pool, source *types.Pool) (float64, bool) {
	if source == nil {
		return 0.7, true
	}
	threshold := a.params.FeeDegradationThreshold
	if threshold <= 0 {
		threshold = 1e-9
	}
	delta := target.SwapFee - source.SwapFee
	score := utils.ClampUnit(1 - math.Max(0, delta)/(2*threshold))
	if target.FeesAPR > source.FeesAPR {
		score = utils.ClampUnit(score + 0.1)
	}
	compatible := delta <= threshold || target.FeesAPR > source.FeesAPR
	return score, compatible
}

func incompatible(id types.PoolID, warning string) types.Compatibility {
	return types.Compatibility{
		PoolID:     id,
		Compatible: false,
		Score:      0,
		Warnings:   []string{warning},
	}
}

func sharedWithPosition(position types.Position, pool types.Pool) int {
	shared := 0
	if pool.HasToken(position.TokenA.Denom) {
		shared++
	}
	if position.TokenB.Denom != position.TokenA.Denom && pool.HasToken(position.TokenB.Denom) {
		shared++
	}
	return shared
}

// validateCandidate rejects pools the assessor cannot reason about
func validateCandidate(pool types.Pool) error {
	if pool.ID == 0 {
		return fmt.Errorf("pool has no ID")
	}
	if !pool.TokenA.IsValid() || !pool.TokenB.IsValid() {
		return fmt.Errorf("pool %d has invalid token descriptors", pool.ID)
	}
	if pool.BalanceA.IsNil() || pool.BalanceB.IsNil() {
		return fmt.Errorf("pool %d has no reserve data", pool.ID)
	}
	for _, v := range []float64{pool.TvlUSD, pool.SwapFee, pool.FeesAPR} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("pool %d has a non-finite or negative metric", pool.ID)
		}
	}
	return nil
}
