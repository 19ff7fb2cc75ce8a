package vault

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig       = errors.New("dispatcher configuration is invalid")
	ErrConnectionFailed    = errors.New("connection establishment failed")
	ErrSignerRequestFailed = errors.New("signer request failed")
	ErrInvalidResponse     = errors.New("response data is invalid")
	ErrTransactionFailed   = errors.New("transaction execution failed")
	ErrConfirmationTimeout = errors.New("transaction was not confirmed in time")
)

const (
	OPERATIONS_API_ROUTE = "/v1/operations"
	SIGNER_TIMEOUT       = 60 * time.Second
)

// TxQuerier is the part of the CometBFT RPC client used to confirm transactions.
// *rpchttp.HTTP satisfies it.
type TxQuerier interface {
	Tx(ctx context.Context, hash []byte, prove bool) (*coretypes.ResultTx, error)
}

// ChainConfig configures a ChainDispatcher.
type ChainConfig struct {
	Owner     string
	SignerURL string // Signs and broadcasts operations for Owner
	TxClient  TxQuerier
	GRPCConn  *grpc.ClientConn // Optional; when set, dispatch is refused while the node is unreachable

	FeeToken        types.Token // Token gas is paid in, used to price receipts
	FallbackCostUSD float64     // Cost recorded when the fee cannot be read from the transaction

	ConfirmAttempts  int
	ConfirmBaseDelay time.Duration
	ConfirmMaxDelay  time.Duration

	HTTPClient *http.Client
}

// ChainDispatcher executes steps through an external signer and confirms them on-chain.
type ChainDispatcher struct {
	cfg    ChainConfig
	client *http.Client
	logger zerolog.Logger
}

// signerRequest is the body posted to the signer for one operation
type signerRequest struct {
	Owner    string           `json:"owner"`
	StepType types.StepType   `json:"step_type"`
	PoolID   types.PoolID     `json:"pool_id"`
	Params   types.StepParams `json:"params"`
}

// signerResponse carries the broadcast hash and the outcome the signer simulated before broadcasting
type signerResponse struct {
	TxHash  string            `json:"tx_hash"`
	Outcome signerOutcome     `json:"outcome"`
	Error   string            `json:"error,omitempty"`
	Kind    types.FailureKind `json:"kind,omitempty"`
}

type signerOutcome struct {
	Claimed   sdktypes.Coins `json:"claimed,omitempty"`
	Withdrawn sdktypes.Coins `json:"withdrawn,omitempty"`
	Shares    sdkmath.Int    `json:"shares,omitempty"`
	SwapOut   sdktypes.Coin  `json:"swap_out,omitempty"`
	Deposited sdktypes.Coins `json:"deposited,omitempty"`
	Verified  bool           `json:"verified,omitempty"`
}

// NewChainDispatcher creates a dispatcher with comprehensive validation
func NewChainDispatcher(cfg ChainConfig) (*ChainDispatcher, error) {
	if err := validateChainConfig(&cfg); err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: SIGNER_TIMEOUT}
	}
	return &ChainDispatcher{
		cfg:    cfg,
		client: client,
		logger: logger.GetForComponent("chain_dispatcher"),
	}, nil
}

// validateChainConfig rejects missing endpoints and fills in confirmation defaults
func validateChainConfig(cfg *ChainConfig) error {
	if cfg.Owner == "" {
		return errors.Join(ErrInvalidConfig, errors.New("owner address cannot be empty"))
	}
	if cfg.SignerURL == "" {
		return errors.Join(ErrInvalidConfig, errors.New("signer URL cannot be empty"))
	}
	if cfg.TxClient == nil {
		return errors.Join(ErrInvalidConfig, errors.New("transaction client cannot be nil"))
	}
	if math.IsNaN(cfg.FallbackCostUSD) || cfg.FallbackCostUSD < 0 {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("fallback cost must be non-negative: %f", cfg.FallbackCostUSD))
	}
	cfg.SignerURL = strings.TrimRight(cfg.SignerURL, "/")
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = 30
	}
	if cfg.ConfirmBaseDelay <= 0 {
		cfg.ConfirmBaseDelay = 2 * time.Second
	}
	if cfg.ConfirmMaxDelay <= 0 {
		cfg.ConfirmMaxDelay = 30 * time.Second
	}
	return nil
}

// Execute signs and broadcasts the operation, then waits for its inclusion.
func (d *ChainDispatcher) Execute(ctx context.Context, stepType types.StepType, pool types.PoolID, params types.StepParams) (*types.Receipt, error) {
	d.logger.Info().
		Str("stepType", string(stepType)).
		Uint64("poolID", uint64(pool)).
		Str("positionID", params.PositionID).
		Msg("Dispatching operation")

	if err := d.ensureConnection(); err != nil {
		return nil, NewOperationError(types.FailureTransient, stepType, pool, err)
	}

	resp, err := d.submit(ctx, stepType, pool, params)
	if err != nil {
		return nil, err
	}

	usage := types.ResourceUsage{CostUSD: d.cfg.FallbackCostUSD, Operations: 1}

	// verification is a query; the signer answers it without broadcasting
	if stepType != types.StepVerifyPosition || resp.TxHash != "" {
		txResult, err := d.waitForTransactionInclusion(ctx, resp.TxHash)
		if err != nil {
			return nil, NewOperationError(types.FailureTransient, stepType, pool, err)
		}
		if err := validateTxResult(txResult); err != nil {
			d.logger.Error().Err(err).Str("txHash", resp.TxHash).Msg("Transaction failed on-chain")
			return nil, NewOperationError(classifyTxCode(txResult.TxResult), stepType, pool, err)
		}
		usage.GasUsed = txResult.TxResult.GasUsed
		if cost, err := d.extractGasFeeUSD(txResult.TxResult.Events); err != nil {
			d.logger.Debug().Err(err).Str("txHash", resp.TxHash).Msg("Fee not found in events, using fallback cost")
		} else {
			usage.CostUSD = cost
		}
	}

	receipt, err := buildReceipt(stepType, params, resp, usage)
	if err != nil {
		return nil, NewOperationError(types.FailureUnknown, stepType, pool, err)
	}

	d.logger.Info().
		Str("stepType", string(stepType)).
		Str("txHash", resp.TxHash).
		Int64("gasUsed", usage.GasUsed).
		Float64("costUSD", usage.CostUSD).
		Msg("Operation confirmed")

	return receipt, nil
}

// submit posts the operation to the signer. Rejections carry the signer's failure kind.
func (d *ChainDispatcher) submit(ctx context.Context, stepType types.StepType, pool types.PoolID, params types.StepParams) (*signerResponse, error) {
	body, err := json.Marshal(signerRequest{Owner: d.cfg.Owner, StepType: stepType, PoolID: pool, Params: params})
	if err != nil {
		return nil, NewOperationError(types.FailureUnknown, stepType, pool, fmt.Errorf("failed to encode signer request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.SignerURL+OPERATIONS_API_ROUTE, bytes.NewReader(body))
	if err != nil {
		return nil, NewOperationError(types.FailureUnknown, stepType, pool, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error().Err(err).Str("stepType", string(stepType)).Msg("Signer request failed")
		return nil, NewOperationError(types.FailureTransient, stepType, pool, errors.Join(ErrSignerRequestFailed, err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewOperationError(types.FailureTransient, stepType, pool, errors.Join(ErrSignerRequestFailed, err))
	}

	var resp signerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, NewOperationError(types.FailureUnknown, stepType, pool,
				errors.Join(ErrInvalidResponse, fmt.Errorf("failed to parse signer response: %w", err)))
		}
	}

	switch {
	case httpResp.StatusCode >= 500:
		return nil, NewOperationError(types.FailureTransient, stepType, pool,
			errors.Join(ErrSignerRequestFailed, fmt.Errorf("signer returned status %d: %s", httpResp.StatusCode, resp.Error)))
	case httpResp.StatusCode != http.StatusOK:
		kind := resp.Kind
		if kind == "" {
			kind = types.FailureRejected
		}
		return nil, NewOperationError(kind, stepType, pool,
			errors.Join(ErrSignerRequestFailed, fmt.Errorf("signer rejected operation with status %d: %s", httpResp.StatusCode, resp.Error)))
	}

	if resp.TxHash == "" && stepType != types.StepVerifyPosition {
		return nil, NewOperationError(types.FailureUnknown, stepType, pool,
			errors.Join(ErrInvalidResponse, errors.New("signer response has no transaction hash")))
	}
	return &resp, nil
}

// waitForTransactionInclusion polls the node with exponential backoff until the transaction is in a block
func (d *ChainDispatcher) waitForTransactionInclusion(ctx context.Context, txHash string) (*coretypes.ResultTx, error) {
	hash, err := hex.DecodeString(txHash)
	if err != nil || len(hash) == 0 {
		return nil, errors.Join(ErrInvalidResponse, fmt.Errorf("transaction hash %q is not hex", txHash))
	}

	d.logger.Info().Str("txHash", txHash).Msg("Waiting for transaction to be included in block...")

	for attempt := 1; attempt <= d.cfg.ConfirmAttempts; attempt++ {
		delay := time.Duration(float64(d.cfg.ConfirmBaseDelay) * math.Pow(1.5, float64(attempt-1)))
		if delay > d.cfg.ConfirmMaxDelay {
			delay = d.cfg.ConfirmMaxDelay
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transaction %s: %w", txHash, ctx.Err())
		case <-time.After(delay):
		}

		queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		result, err := d.cfg.TxClient.Tx(queryCtx, hash, false)
		cancel()
		if err != nil {
			d.logger.Debug().
				Err(err).
				Str("txHash", txHash).
				Int("attempt", attempt).
				Msg("Transaction not yet available, will retry")
			continue
		}
		if result != nil {
			d.logger.Info().
				Str("txHash", txHash).
				Int("attempt", attempt).
				Int64("height", result.Height).
				Msg("Transaction found in block")
			return result, nil
		}
	}

	return nil, errors.Join(ErrConfirmationTimeout,
		fmt.Errorf("transaction %s was not found in block after %d attempts", txHash, d.cfg.ConfirmAttempts))
}

// extractGasFeeUSD reads the fee attribute of the tx event and prices it in the fee token
func (d *ChainDispatcher) extractGasFeeUSD(events []abci.Event) (float64, error) {
	if d.cfg.FeeToken.Denom == "" {
		return 0, errors.New("fee token is not configured")
	}
	total := sdkmath.ZeroInt()
	for _, event := range events {
		if event.Type != "tx" {
			continue
		}
		for _, attr := range event.Attributes {
			if attr.Key != "fee" || attr.Value == "" {
				continue
			}
			coins, err := sdktypes.ParseCoinsNormalized(attr.Value)
			if err != nil {
				return 0, fmt.Errorf("invalid fee attribute %q: %w", attr.Value, err)
			}
			total = total.Add(coins.AmountOf(d.cfg.FeeToken.Denom))
		}
	}
	if total.IsZero() {
		return 0, fmt.Errorf("no %s fee found in transaction events", d.cfg.FeeToken.Denom)
	}
	return utils.TokenValueUSD(total, d.cfg.FeeToken)
}

// isConnected checks if the gRPC connection is usable
func (d *ChainDispatcher) isConnected() bool {
	if d.cfg.GRPCConn == nil {
		return true
	}
	state := d.cfg.GRPCConn.GetState()
	if state == connectivity.Idle {
		d.cfg.GRPCConn.Connect()
	}
	return state != connectivity.TransientFailure && state != connectivity.Shutdown
}

// ensureConnection refuses to dispatch while the node connection is broken
func (d *ChainDispatcher) ensureConnection() error {
	if !d.isConnected() {
		d.logger.Error().Msg("gRPC connection is invalid")
		return errors.Join(ErrConnectionFailed, errors.New("gRPC connection is not valid"))
	}
	return nil
}

func validateTxResult(result *coretypes.ResultTx) error {
	if result == nil {
		return errors.New("transaction result is nil")
	}
	if result.TxResult.Code != 0 {
		return errors.Join(ErrTransactionFailed,
			fmt.Errorf("transaction failed with code %d (%s): %s", result.TxResult.Code, result.TxResult.Codespace, result.TxResult.Log))
	}
	return nil
}

// classifyTxCode maps SDK error codes to failure kinds. Module-specific codes are rejections.
func classifyTxCode(result abci.ExecTxResult) types.FailureKind {
	if result.Codespace != sdkerrors.ErrInsufficientFunds.Codespace() {
		return types.FailureRejected
	}
	switch result.Code {
	case sdkerrors.ErrInsufficientFunds.ABCICode(), sdkerrors.ErrInsufficientFee.ABCICode():
		return types.FailureInsufficientFunds
	case sdkerrors.ErrOutOfGas.ABCICode(), sdkerrors.ErrWrongSequence.ABCICode(), sdkerrors.ErrMempoolIsFull.ABCICode():
		return types.FailureTransient
	case sdkerrors.ErrNotFound.ABCICode(), sdkerrors.ErrKeyNotFound.ABCICode():
		return types.FailurePositionNotFound
	}
	return types.FailureRejected
}

// buildReceipt converts the signer's outcome into the typed receipt for stepType
func buildReceipt(stepType types.StepType, params types.StepParams, resp *signerResponse, usage types.ResourceUsage) (*types.Receipt, error) {
	out := resp.Outcome
	shares := out.Shares
	if shares.IsNil() {
		shares = sdkmath.ZeroInt()
	}
	switch stepType {
	case types.StepClaimFees:
		return types.NewClaimReceipt(resp.TxHash, usage, out.Claimed), nil
	case types.StepRemoveLiquidity:
		return types.NewRemoveReceipt(resp.TxHash, usage, out.Withdrawn, shares), nil
	case types.StepSwapTokens:
		return types.NewSwapReceipt(resp.TxHash, usage, params.TokenIn, out.SwapOut), nil
	case types.StepAddLiquidity:
		return types.NewAddReceipt(resp.TxHash, usage, out.Deposited, shares), nil
	case types.StepVerifyPosition:
		if !out.Verified {
			return nil, errors.New("position could not be verified in the target pool")
		}
		return types.NewVerifyReceipt(resp.TxHash, usage, true), nil
	case types.StepClosePosition:
		return types.NewCloseReceipt(resp.TxHash, usage, out.Withdrawn, shares), nil
	}
	return nil, fmt.Errorf("unknown step type %q", stepType)
}
