/*

This file contains route discovery: enumerate candidate pools for a position, score them and keep the best.

*/

package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/elys-network/poolmigrator/internal/cache"
	"github.com/elys-network/poolmigrator/internal/datafetcher"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/metrics"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/utils"
	"github.com/rs/zerolog"
)

// Composite route score weights
const (
	confidenceWeight = 0.7
	costWeight       = 0.3
)

// RouteDiscovery enumerates and ranks migration targets. Results are cached per
// (position, filters) key; the cache is never consulted as a source of truth.
type RouteDiscovery struct {
	reader   datafetcher.PoolReader
	assessor *Assessor
	cache    cache.Store
	metrics  *metrics.Metrics
	params   types.MigrationParameters
	logger   zerolog.Logger
}

func NewRouteDiscovery(reader datafetcher.PoolReader, assessor *Assessor, store cache.Store, m *metrics.Metrics, params types.MigrationParameters) *RouteDiscovery {
	return &RouteDiscovery{
		reader:   reader,
		assessor: assessor,
		cache:    store,
		metrics:  m,
		params:   params,
		logger:   logger.GetForComponent("route_discovery"),
	}
}

// candidate is a compatible pool with its bridge hops worked out, before normalization
type candidate struct {
	pool          types.Pool
	compatibility types.Compatibility
	hops          []types.SwapHop
	slippage      float64
	cost          float64
	duration      time.Duration
}

// Discover returns routes sorted by composite score. It never fails: an
// unreachable or empty pool list yields an empty slice.
func (d *RouteDiscovery) Discover(ctx context.Context, position types.Position, filters types.RouteFilters) []types.Route {
	key := RoutesCacheKey(position, filters)
	if d.cache != nil {
		var cached []types.Route
		hit, err := d.cache.Get(ctx, key, &cached)
		if err != nil {
			d.logger.Warn().Err(err).Str("key", key).Msg("Route cache read failed, recomputing")
		}
		d.metrics.CacheLookup(hit)
		if hit {
			d.logger.Debug().Str("key", key).Int("routes", len(cached)).Msg("Route cache hit")
			return cached
		}
	}

	pools, err := d.reader.ListPools(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Str("positionID", position.ID).Msg("Pool listing failed, no routes discovered")
		return []types.Route{}
	}
	if len(pools) == 0 {
		d.logger.Info().Str("positionID", position.ID).Msg("Pool listing is empty, no routes discovered")
		return []types.Route{}
	}

	byID := make(map[types.PoolID]types.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}
	var source *types.Pool
	if p, ok := byID[position.PoolID]; ok {
		source = &p
	}

	positionValue, err := utils.PositionValueUSD(position)
	if err != nil {
		d.logger.Warn().Err(err).Str("positionID", position.ID).Msg("Position value unavailable, estimating costs without it")
		positionValue = 0
	}

	candidates := make([]candidate, 0, len(pools))
	for _, pool := range pools {
		if pool.ID == position.PoolID || filters.IsExcluded(pool.ID) {
			continue
		}
		if filters.MinLiquidityUSD > 0 && pool.TvlUSD < filters.MinLiquidityUSD {
			continue
		}

		target := pool
		compatibility := d.assessor.Assess(position, &target, source)
		if !compatibility.Compatible {
			d.logger.Debug().
				Uint64("poolID", uint64(pool.ID)).
				Strs("warnings", compatibility.Warnings).
				Msg("Skipping incompatible pool")
			continue
		}

		hops, ok := planHops(position, target, byID, positionValue)
		if !ok {
			d.logger.Debug().Uint64("poolID", uint64(pool.ID)).Msg("Skipping pool with no bridge path")
			continue
		}

		candidates = append(candidates, d.estimate(position, target, compatibility, hops, positionValue))
	}

	routes := d.rank(position, candidates, filters)

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, routes); err != nil {
			d.logger.Warn().Err(err).Str("key", key).Msg("Route cache write failed")
		}
	}
	d.metrics.RoutesReturned(len(routes))

	d.logger.Info().
		Str("positionID", position.ID).
		Int("poolsConsidered", len(pools)).
		Int("candidates", len(candidates)).
		Int("routes", len(routes)).
		Msg("Route discovery complete")

	return routes
}

// estimate fills in slippage, cost and duration for a compatible target.
func (d *RouteDiscovery) estimate(position types.Position, target types.Pool, compatibility types.Compatibility, hops []types.SwapHop, positionValue float64) candidate {
	operations := 3 + len(hops) // remove, add, verify
	if position.HasUnclaimedFees() {
		operations++
	}

	slippage := 0.0
	swapFees := 0.0
	for _, hop := range hops {
		slippage += hop.EstimatedSlippage
	}
	// swaps move roughly half the position value each
	for range hops {
		swapFees += positionValue / 2 * target.SwapFee
	}
	if target.TvlUSD > 0 {
		// a balanced deposit still nudges the price through rounding and fees
		slippage += 0.1 * positionValue / target.TvlUSD
	}
	slippage = utils.ClampUnit(slippage)

	cost := float64(operations)*d.params.GasCostPerOperationUSD + swapFees + slippage*positionValue
	return candidate{
		pool:          target,
		compatibility: compatibility,
		hops:          hops,
		slippage:      slippage,
		cost:          cost,
		duration:      time.Duration(operations) * d.params.OperationDuration,
	}
}

// rank normalizes cost across candidates, computes the composite score, sorts and truncates.
func (d *RouteDiscovery) rank(position types.Position, candidates []candidate, filters types.RouteFilters) []types.Route {
	maxCost := 0.0
	for _, c := range candidates {
		maxCost = math.Max(maxCost, c.cost)
	}

	routes := make([]types.Route, 0, len(candidates))
	for _, c := range candidates {
		normalizedCost := 0.0
		if maxCost > 0 {
			normalizedCost = c.cost / maxCost
		}
		confidence := utils.ClampUnit(c.compatibility.Score - 0.1*float64(len(c.hops)) - 5*c.slippage)
		routes = append(routes, types.Route{
			ID:                fmt.Sprintf("route-%d-%d", position.PoolID, c.pool.ID),
			SourcePoolID:      position.PoolID,
			TargetPoolID:      c.pool.ID,
			EstimatedSlippage: c.slippage,
			EstimatedCostUSD:  c.cost,
			EstimatedDuration: c.duration,
			RequiresBridge:    len(c.hops) > 0,
			Swaps:             c.hops,
			Confidence:        confidence,
			Score:             confidenceWeight*confidence - costWeight*normalizedCost,
		})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Score != routes[j].Score {
			return routes[i].Score > routes[j].Score
		}
		return routes[i].TargetPoolID < routes[j].TargetPoolID
	})

	limit := filters.MaxResults
	if limit <= 0 {
		limit = d.params.MaxRoutes
	}
	if limit > 0 && len(routes) > limit {
		routes = routes[:limit]
	}
	return routes
}

// planHops works out the swaps needed to turn the position's pair into the
// target's pair. It reports false when some missing token cannot be bridged.
func planHops(position types.Position, target types.Pool, pools map[types.PoolID]types.Pool, positionValue float64) ([]types.SwapHop, bool) {
	needA := !target.HasToken(position.TokenA.Denom)
	needB := !target.HasToken(position.TokenB.Denom)

	switch {
	case !needA && !needB:
		return nil, true

	case needA != needB:
		// one side already matches; swap the other into the target's remaining token
		from, kept := position.TokenA, position.TokenB
		if needB {
			from, kept = position.TokenB, position.TokenA
		}
		to, ok := target.OtherToken(kept.Denom)
		if !ok {
			return nil, false
		}
		hop, ok := bridgeHop(from, to, pools, positionValue/2)
		if !ok {
			return nil, false
		}
		return []types.SwapHop{hop}, true

	default:
		// no overlap: try both pairings and keep the one whose bridges are deepest
		var best []types.SwapHop
		bestDepth := -1.0
		for _, pairing := range [][2]types.Token{{target.TokenA, target.TokenB}, {target.TokenB, target.TokenA}} {
			first, ok1 := bridgeHop(position.TokenA, pairing[0], pools, positionValue/2)
			second, ok2 := bridgeHop(position.TokenB, pairing[1], pools, positionValue/2)
			if !ok1 || !ok2 {
				continue
			}
			depth := math.Min(pools[first.ViaPool].TvlUSD, pools[second.ViaPool].TvlUSD)
			if depth > bestDepth {
				best, bestDepth = []types.SwapHop{first, second}, depth
			}
		}
		return best, best != nil
	}
}

// bridgeHop finds the deepest pool pairing from and to and estimates the swap's price impact.
func bridgeHop(from, to types.Token, pools map[types.PoolID]types.Pool, tradeValue float64) (types.SwapHop, bool) {
	var via *types.Pool
	for id := range pools {
		p := pools[id]
		if !p.HasToken(from.Denom) || !p.HasToken(to.Denom) || p.TvlUSD <= 0 {
			continue
		}
		if via == nil || p.TvlUSD > via.TvlUSD || (p.TvlUSD == via.TvlUSD && p.ID < via.ID) {
			via = &p
		}
	}
	if via == nil {
		return types.SwapHop{}, false
	}
	// constant-product impact is roughly trade size over the reserve being bought from
	impact := tradeValue / (via.TvlUSD / 2)
	return types.SwapHop{
		From:              from,
		To:                to,
		ViaPool:           via.ID,
		EstimatedSlippage: utils.ClampUnit(impact + via.SwapFee),
	}, true
}

// RoutesCacheKey identifies a discovery request. Positions with the same pool,
// size and fees under the same filters share results.
func RoutesCacheKey(position types.Position, filters types.RouteFilters) string {
	excluded := make([]string, 0, len(filters.ExcludedPools))
	for _, id := range filters.ExcludedPools {
		excluded = append(excluded, fmt.Sprintf("%d", id))
	}
	sort.Strings(excluded)
	return fmt.Sprintf("routes:%s:min=%.2f:ex=%s:max=%d",
		positionKey(position), filters.MinLiquidityUSD, strings.Join(excluded, ","), filters.MaxResults)
}

// CompatibilityCacheKey identifies one assessment. A resized position misses
// the cache since liquidity adequacy depends on its value.
func CompatibilityCacheKey(position types.Position, target types.PoolID) string {
	return fmt.Sprintf("compat:%s:%d", positionKey(position), target)
}

func positionKey(position types.Position) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s:%s",
		position.ID, position.PoolID,
		intString(position.Liquidity.String, position.Liquidity.IsNil()),
		intString(position.AmountA.String, position.AmountA.IsNil()),
		intString(position.AmountB.String, position.AmountB.IsNil()),
		position.AccruedFees.String())
}

func intString(str func() string, isNil bool) string {
	if isNil {
		return "0"
	}
	return str()
}
