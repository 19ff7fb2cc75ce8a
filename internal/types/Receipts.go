/*

Receipts are the typed outcomes of a dispatched operation. There is one constructor per step type so
callers never have to guess which fields a dispatcher filled in.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

// ResourceUsage accumulates what an operation (or a whole run) consumed.
type ResourceUsage struct {
	GasUsed    int64   `json:"gas_used"`
	CostUSD    float64 `json:"cost_usd"`
	Operations int     `json:"operations"`
}

// Add folds another usage record into this one.
func (r *ResourceUsage) Add(other ResourceUsage) {
	r.GasUsed += other.GasUsed
	r.CostUSD += other.CostUSD
	r.Operations += other.Operations
}

// Receipt is what the operation dispatcher returns for a confirmed operation.
type Receipt struct {
	StepType       StepType      `json:"step_type"`
	ConfirmationID string        `json:"confirmation_id"` // e.g. the transaction hash
	Resources      ResourceUsage `json:"resources"`

	Claimed          sdktypes.Coins `json:"claimed,omitempty"`           // CLAIM_FEES
	Withdrawn        sdktypes.Coins `json:"withdrawn,omitempty"`         // REMOVE_LIQUIDITY, CLOSE_POSITION
	LiquidityRemoved sdkmath.Int    `json:"liquidity_removed,omitempty"` // REMOVE_LIQUIDITY, CLOSE_POSITION
	SwapIn           sdktypes.Coin  `json:"swap_in,omitempty"`           // SWAP_TOKENS
	SwapOut          sdktypes.Coin  `json:"swap_out,omitempty"`          // SWAP_TOKENS
	Deposited        sdktypes.Coins `json:"deposited,omitempty"`         // ADD_LIQUIDITY
	LiquidityAdded   sdkmath.Int    `json:"liquidity_added,omitempty"`   // ADD_LIQUIDITY
	Verified         bool           `json:"verified,omitempty"`          // VERIFY_POSITION
}

func NewClaimReceipt(confirmationID string, usage ResourceUsage, claimed sdktypes.Coins) *Receipt {
	return &Receipt{StepType: StepClaimFees, ConfirmationID: confirmationID, Resources: usage, Claimed: claimed}
}

func NewRemoveReceipt(confirmationID string, usage ResourceUsage, withdrawn sdktypes.Coins, shares sdkmath.Int) *Receipt {
	return &Receipt{StepType: StepRemoveLiquidity, ConfirmationID: confirmationID, Resources: usage, Withdrawn: withdrawn, LiquidityRemoved: shares}
}

func NewSwapReceipt(confirmationID string, usage ResourceUsage, in, out sdktypes.Coin) *Receipt {
	return &Receipt{StepType: StepSwapTokens, ConfirmationID: confirmationID, Resources: usage, SwapIn: in, SwapOut: out}
}

func NewAddReceipt(confirmationID string, usage ResourceUsage, deposited sdktypes.Coins, shares sdkmath.Int) *Receipt {
	return &Receipt{StepType: StepAddLiquidity, ConfirmationID: confirmationID, Resources: usage, Deposited: deposited, LiquidityAdded: shares}
}

func NewVerifyReceipt(confirmationID string, usage ResourceUsage, verified bool) *Receipt {
	return &Receipt{StepType: StepVerifyPosition, ConfirmationID: confirmationID, Resources: usage, Verified: verified}
}

func NewCloseReceipt(confirmationID string, usage ResourceUsage, withdrawn sdktypes.Coins, shares sdkmath.Int) *Receipt {
	return &Receipt{StepType: StepClosePosition, ConfirmationID: confirmationID, Resources: usage, Withdrawn: withdrawn, LiquidityRemoved: shares}
}

// FailureKind tags why an operation failed. Dispatchers set it so the engine
// never has to guess intent from error text.
type FailureKind string

const (
	FailureUnknown           FailureKind = "unknown"
	FailureTransient         FailureKind = "transient"
	FailureInsufficientFunds FailureKind = "insufficient_funds"
	FailureSlippageExceeded  FailureKind = "slippage_exceeded"
	FailurePoolNotFound      FailureKind = "pool_not_found"
	FailurePositionNotFound  FailureKind = "position_not_found"
	FailureRejected          FailureKind = "rejected"
)
