package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// simulatedGasPerOperation is a typical gas figure for a single AMM message.
const simulatedGasPerOperation = 150_000

// DispatchCall records one operation seen by the SimulatedDispatcher.
type DispatchCall struct {
	StepType types.StepType
	Pool     types.PoolID
	Params   types.StepParams
}

type scriptedFailure struct {
	kind    types.FailureKind
	message string
	times   int // remaining failures; negative means always
}

// SimulatedDispatcher confirms every operation without touching a chain. It
// backs dry runs, and failures can be scripted per step type.
type SimulatedDispatcher struct {
	mu       sync.Mutex
	costUSD  float64
	latency  time.Duration
	failures map[types.StepType]*scriptedFailure
	calls    []DispatchCall
	logger   zerolog.Logger
}

// NewSimulatedDispatcher charges costUSD per operation and waits latency before answering.
func NewSimulatedDispatcher(costUSD float64, latency time.Duration) *SimulatedDispatcher {
	return &SimulatedDispatcher{
		costUSD:  costUSD,
		latency:  latency,
		failures: make(map[types.StepType]*scriptedFailure),
		logger:   logger.GetForComponent("simulated_dispatcher"),
	}
}

// FailOn makes the next times dispatches of stepType fail with kind. times < 0 fails
// every dispatch and times == 0 clears the script.
func (d *SimulatedDispatcher) FailOn(stepType types.StepType, kind types.FailureKind, message string, times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if times == 0 {
		delete(d.failures, stepType)
		return
	}
	d.failures[stepType] = &scriptedFailure{kind: kind, message: message, times: times}
}

// Calls returns the operations dispatched so far, in order.
func (d *SimulatedDispatcher) Calls() []DispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchCall(nil), d.calls...)
}

func (d *SimulatedDispatcher) Execute(ctx context.Context, stepType types.StepType, pool types.PoolID, params types.StepParams) (*types.Receipt, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DispatchCall{StepType: stepType, Pool: pool, Params: params})
	failure := d.failures[stepType]
	if failure != nil && failure.times > 0 {
		failure.times--
		if failure.times == 0 {
			delete(d.failures, stepType)
		}
	}
	d.mu.Unlock()

	if d.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, NewOperationError(types.FailureTransient, stepType, pool, ctx.Err())
		case <-time.After(d.latency):
		}
	}

	if failure != nil {
		d.logger.Debug().Str("stepType", string(stepType)).Str("kind", string(failure.kind)).Msg("Scripted dispatch failure")
		return nil, NewOperationError(failure.kind, stepType, pool, errors.New(failure.message))
	}

	confirmation := "sim-" + uuid.NewString()
	usage := types.ResourceUsage{GasUsed: simulatedGasPerOperation, CostUSD: d.costUSD, Operations: 1}

	switch stepType {
	case types.StepClaimFees:
		return types.NewClaimReceipt(confirmation, usage, params.Amounts), nil
	case types.StepRemoveLiquidity:
		return types.NewRemoveReceipt(confirmation, usage, params.Amounts, nonNil(params.Liquidity)), nil
	case types.StepSwapTokens:
		return types.NewSwapReceipt(confirmation, usage, params.TokenIn, params.ExpectedOut), nil
	case types.StepAddLiquidity:
		shares := params.Liquidity
		if shares.IsNil() || shares.IsZero() {
			// mint one share per deposited base unit
			shares = sdkmath.ZeroInt()
			for _, c := range params.Amounts {
				shares = shares.Add(c.Amount)
			}
		}
		return types.NewAddReceipt(confirmation, usage, params.Amounts, shares), nil
	case types.StepVerifyPosition:
		return types.NewVerifyReceipt(confirmation, types.ResourceUsage{Operations: 1}, true), nil
	case types.StepClosePosition:
		return types.NewCloseReceipt(confirmation, usage, params.Amounts, nonNil(params.Liquidity)), nil
	}
	return nil, NewOperationError(types.FailureRejected, stepType, pool, fmt.Errorf("unknown step type %q", stepType))
}

func nonNil(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}
