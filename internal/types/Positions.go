/*

This file contains the types for positions and the atomic steps used to move them between pools.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

// LP position type
type Position struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	PoolID      PoolID         `json:"pool_id"`
	TokenA      Token          `json:"token_a"`
	TokenB      Token          `json:"token_b"`
	Liquidity   sdkmath.Int    `json:"liquidity"` // LP shares held in the pool
	AmountA     sdkmath.Int    `json:"amount_a"`  // Underlying TokenA redeemable for the shares
	AmountB     sdkmath.Int    `json:"amount_b"`  // Underlying TokenB redeemable for the shares
	AccruedFees sdktypes.Coins `json:"accrued_fees,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Active      bool           `json:"active"`
}

// HasUnclaimedFees reports whether a claim step is worth planning.
func (p Position) HasUnclaimedFees() bool {
	return !p.AccruedFees.IsZero()
}

// Underlying returns the redeemable amounts as coins, omitting empty sides.
func (p Position) Underlying() sdktypes.Coins {
	coins := make([]sdktypes.Coin, 0, 2)
	if !p.AmountA.IsNil() && p.AmountA.IsPositive() {
		coins = append(coins, sdktypes.Coin{Denom: p.TokenA.Denom, Amount: p.AmountA})
	}
	if !p.AmountB.IsNil() && p.AmountB.IsPositive() {
		coins = append(coins, sdktypes.Coin{Denom: p.TokenB.Denom, Amount: p.AmountB})
	}
	return sdktypes.Coins(coins).Sort()
}

// StepType defines the specific low-level operations.
type StepType string

const (
	StepClaimFees       StepType = "claim_fees"
	StepRemoveLiquidity StepType = "remove_liquidity"
	StepSwapTokens      StepType = "swap_tokens"
	StepAddLiquidity    StepType = "add_liquidity"
	StepVerifyPosition  StepType = "verify_position"
	StepClosePosition   StepType = "close_position"
)

// IsReversible reports whether a compensating action exists for the operation.
// Claims, swaps and closes cannot be undone on-chain.
func (t StepType) IsReversible() bool {
	return t == StepRemoveLiquidity || t == StepAddLiquidity
}

// StepParams carries the operation arguments. Only the fields relevant to the
// step type are set.
type StepParams struct {
	PositionID string `json:"position_id,omitempty"`

	// REMOVE_LIQUIDITY / ADD_LIQUIDITY
	Liquidity sdkmath.Int    `json:"liquidity,omitempty"` // Shares to remove, or shares expected from a deposit
	Amounts   sdktypes.Coins `json:"amounts,omitempty"`   // Tokens expected out of a removal, or tokens to deposit

	// SWAP_TOKENS
	TokenIn       sdktypes.Coin `json:"token_in,omitempty"`
	TokenOutDenom string        `json:"token_out_denom,omitempty"`
	ExpectedOut   sdktypes.Coin `json:"expected_out,omitempty"`   // Estimate at the route's slippage
	MinAmountOut  sdkmath.Int   `json:"min_amount_out,omitempty"` // Floor at the caller's max slippage

	SlippageTolerance float64 `json:"slippage_tolerance,omitempty"`
}

// Step is one atomic operation in a migration plan.
type Step struct {
	ID                string          `json:"id"`
	Order             int             `json:"order"`
	Type              StepType        `json:"type"`
	PoolID            PoolID          `json:"pool_id"`
	DependsOn         []string        `json:"depends_on,omitempty"`
	Critical          bool            `json:"critical"`
	EstimatedCostUSD  float64         `json:"estimated_cost_usd"`
	EstimatedDuration time.Duration   `json:"estimated_duration"`
	Params            StepParams      `json:"params"`
	Result            *StepResult     `json:"result,omitempty"`
	Rollback          *RollbackAction `json:"rollback,omitempty"`
}

// StepResult is written by the execution engine once the step has a definite outcome.
type StepResult struct {
	Success    bool      `json:"success"`
	Receipt    *Receipt  `json:"receipt,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RollbackAction is the compensating operation for a step, captured from the
// state observed before the step runs.
type RollbackAction struct {
	Reversible bool       `json:"reversible"`
	Type       StepType   `json:"type,omitempty"`
	PoolID     PoolID     `json:"pool_id,omitempty"`
	Params     StepParams `json:"params"`
	Note       string     `json:"note,omitempty"`
}
