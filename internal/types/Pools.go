/*

This is a custom type for pools which contains all the state needed for assessing migration targets

*/

package types

import (
	"cosmossdk.io/math"
)

type PoolID uint64

type Pool struct {
	ID           PoolID   `json:"id"`
	TokenA       Token    `json:"token_a"`
	TokenB       Token    `json:"token_b"`
	BalanceA     math.Int `json:"balance_a"`      // Reserve of TokenA
	BalanceB     math.Int `json:"balance_b"`      // Reserve of TokenB
	TotalShares  math.Int `json:"total_shares"`   // Outstanding LP shares
	TvlUSD       float64  `json:"tvl_usd"`        // Total Value Locked in USD
	Volume24hUSD float64  `json:"volume_24h_usd"` // 24h trading volume in USD
	SwapFee      float64  `json:"swap_fee"`       // e.g., 0.003 for 0.3%
	FeesAPR      float64  `json:"fees_apr"`       // Fee yield paid to liquidity providers
}

// HasToken reports whether denom is one side of the pool.
func (p Pool) HasToken(denom string) bool {
	return denom != "" && (p.TokenA.Denom == denom || p.TokenB.Denom == denom)
}

// OtherToken returns the side of the pool that is not denom.
func (p Pool) OtherToken(denom string) (Token, bool) {
	switch denom {
	case p.TokenA.Denom:
		return p.TokenB, true
	case p.TokenB.Denom:
		return p.TokenA, true
	}
	return Token{}, false
}

// SharedTokens counts the denoms the two pools have in common.
func (p Pool) SharedTokens(other Pool) int {
	shared := 0
	if other.HasToken(p.TokenA.Denom) {
		shared++
	}
	if p.TokenB.Denom != p.TokenA.Denom && other.HasToken(p.TokenB.Denom) {
		shared++
	}
	return shared
}
