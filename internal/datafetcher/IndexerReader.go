package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/rs/zerolog"
)

const (
	POOLS_API_ROUTE     = "/pools"
	POSITIONS_API_ROUTE = "/positions"
	INDEXER_TIMEOUT     = 30 * time.Second
)

// tokenData is the indexer's asset descriptor
type tokenData struct {
	Symbol   string  `json:"symbol"`
	Denom    string  `json:"denom"`
	Decimals int     `json:"decimals"`
	PriceUSD float64 `json:"price_usd"`
}

// poolData represents the structure of each pool entry
type poolData struct {
	PoolID       string    `json:"pool_id"`
	TokenA       tokenData `json:"token_a"`
	TokenB       tokenData `json:"token_b"`
	BalanceA     string    `json:"balance_a"`
	BalanceB     string    `json:"balance_b"`
	TotalShares  string    `json:"total_shares"`
	TvlUSD       float64   `json:"tvl_usd"`
	Volume24hUSD float64   `json:"volume_24h_usd"`
	SwapFee      float64   `json:"swap_fee"`
	FeesAPR      float64   `json:"fees_apr"`
}

// positionData represents the structure of each position entry
type positionData struct {
	PositionID  string    `json:"position_id"`
	Owner       string    `json:"owner"`
	PoolID      string    `json:"pool_id"`
	TokenA      tokenData `json:"token_a"`
	TokenB      tokenData `json:"token_b"`
	Shares      string    `json:"shares"`
	AmountA     string    `json:"amount_a"`
	AmountB     string    `json:"amount_b"`
	AccruedFees string    `json:"accrued_fees"` // Coins string, e.g. "120uatom,45uusdc"
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
}

// IndexerReader reads pools and positions from the indexer REST API with strict validation
type IndexerReader struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewIndexerReader creates a reader against baseURL, e.g. "https://indexer.example.org/api".
func NewIndexerReader(baseURL string) (*IndexerReader, error) {
	if baseURL == "" {
		return nil, errors.New("indexer base URL cannot be empty")
	}
	return &IndexerReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: INDEXER_TIMEOUT},
		logger:  logger.GetForComponent("indexer_reader"),
	}, nil
}

// ListPools fetches every pool and skips entries that fail validation
func (r *IndexerReader) ListPools(ctx context.Context) ([]types.Pool, error) {
	var raw []poolData
	if _, err := r.getJSON(ctx, POOLS_API_ROUTE, &raw); err != nil {
		return nil, err
	}

	pools := make([]types.Pool, 0, len(raw))
	skippedCount := 0
	for i, data := range raw {
		pool, err := convertPool(data)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Int("entryIndex", i).
				Str("poolID", data.PoolID).
				Msg("Skipping invalid pool entry")
			skippedCount++
			continue
		}
		pools = append(pools, pool)
	}

	r.logger.Debug().
		Int("totalEntries", len(raw)).
		Int("validEntries", len(pools)).
		Int("skippedEntries", skippedCount).
		Msg("Filtered pool entries")

	return pools, nil
}

// GetPool fetches a single pool. A 404 is reported as not found, not as an error.
func (r *IndexerReader) GetPool(ctx context.Context, id types.PoolID) (types.Pool, bool, error) {
	var raw poolData
	found, err := r.getJSON(ctx, POOLS_API_ROUTE+"/"+strconv.FormatUint(uint64(id), 10), &raw)
	if err != nil || !found {
		return types.Pool{}, false, err
	}
	pool, err := convertPool(raw)
	if err != nil {
		return types.Pool{}, false, err
	}
	return pool, true, nil
}

// GetUserPositions fetches the owner's positions, optionally for one pool only
func (r *IndexerReader) GetUserPositions(ctx context.Context, owner string, pool *types.PoolID) ([]types.Position, error) {
	if owner == "" {
		return nil, errors.Join(ErrInvalidPosition, errors.New("owner cannot be empty"))
	}
	query := url.Values{}
	query.Set("owner", owner)
	if pool != nil {
		query.Set("pool_id", strconv.FormatUint(uint64(*pool), 10))
	}

	var raw []positionData
	if _, err := r.getJSON(ctx, POSITIONS_API_ROUTE+"?"+query.Encode(), &raw); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(raw))
	for i, data := range raw {
		position, err := convertPosition(data)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Int("entryIndex", i).
				Str("positionID", data.PositionID).
				Msg("Skipping invalid position entry")
			continue
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// getJSON performs a GET and decodes the body into dest. It reports false on 404.
func (r *IndexerReader) getJSON(ctx context.Context, route string, dest any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, INDEXER_TIMEOUT)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+route, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build indexer request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error().Err(err).Str("route", route).Msg("HTTP request failed for indexer data")
		return false, fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := validateAPIResponse(resp); err != nil {
		return false, errors.Join(ErrAPIResponseInvalid, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read indexer response: %w", err)
	}
	if len(body) == 0 {
		return false, errors.Join(ErrAPIResponseInvalid, errors.New("empty response body from indexer"))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return false, fmt.Errorf("failed to parse indexer JSON: %w", err)
	}
	return true, nil
}

// validateAPIResponse performs basic validation on the HTTP response
func validateAPIResponse(resp *http.Response) error {
	if resp == nil {
		return errors.New("HTTP response is nil")
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned non-200 status: %d", resp.StatusCode)
	}

	if resp.Body == nil {
		return errors.New("response body is nil")
	}

	return nil
}

func convertToken(data tokenData) (types.Token, error) {
	token := types.Token{
		Symbol:   data.Symbol,
		Denom:    data.Denom,
		Decimals: data.Decimals,
		PriceUSD: data.PriceUSD,
	}
	if math.IsNaN(token.PriceUSD) || math.IsInf(token.PriceUSD, 0) || !token.IsValid() {
		return types.Token{}, fmt.Errorf("token %q has invalid descriptor", data.Denom)
	}
	return token, nil
}

func parseAmount(field, value string) (sdkmath.Int, error) {
	if value == "" {
		return sdkmath.ZeroInt(), nil
	}
	amount, ok := sdkmath.NewIntFromString(value)
	if !ok || amount.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%s is not a valid non-negative integer: %q", field, value)
	}
	return amount, nil
}

func convertPool(data poolData) (types.Pool, error) {
	id, err := strconv.ParseUint(data.PoolID, 10, 64)
	if err != nil || id == 0 {
		return types.Pool{}, errors.Join(ErrInvalidPoolData, fmt.Errorf("invalid pool ID %q", data.PoolID))
	}
	pool := types.Pool{
		ID:           types.PoolID(id),
		TvlUSD:       data.TvlUSD,
		Volume24hUSD: data.Volume24hUSD,
		SwapFee:      data.SwapFee,
		FeesAPR:      data.FeesAPR,
	}
	if pool.TokenA, err = convertToken(data.TokenA); err != nil {
		return types.Pool{}, errors.Join(ErrInvalidPoolData, err)
	}
	if pool.TokenB, err = convertToken(data.TokenB); err != nil {
		return types.Pool{}, errors.Join(ErrInvalidPoolData, err)
	}
	if pool.BalanceA, err = parseAmount("balance_a", data.BalanceA); err != nil {
		return types.Pool{}, errors.Join(ErrInvalidPoolData, err)
	}
	if pool.BalanceB, err = parseAmount("balance_b", data.BalanceB); err != nil {
		return types.Pool{}, errors.Join(ErrInvalidPoolData, err)
	}
	if pool.TotalShares, err = parseAmount("total_shares", data.TotalShares); err != nil {
		return types.Pool{}, errors.Join(ErrInvalidPoolData, err)
	}
	for _, v := range []float64{pool.TvlUSD, pool.Volume24hUSD, pool.SwapFee, pool.FeesAPR} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return types.Pool{}, errors.Join(ErrInvalidPoolData, fmt.Errorf("pool %d has a non-finite or negative metric", id))
		}
	}
	return pool, nil
}

func convertPosition(data positionData) (types.Position, error) {
	poolID, err := strconv.ParseUint(data.PoolID, 10, 64)
	if err != nil || poolID == 0 {
		return types.Position{}, errors.Join(ErrInvalidPosition, fmt.Errorf("invalid pool ID %q", data.PoolID))
	}
	if data.PositionID == "" {
		return types.Position{}, errors.Join(ErrInvalidPosition, errors.New("position ID is empty"))
	}
	position := types.Position{
		ID:        data.PositionID,
		Owner:     data.Owner,
		PoolID:    types.PoolID(poolID),
		CreatedAt: data.CreatedAt,
		Active:    data.Active,
	}
	if position.TokenA, err = convertToken(data.TokenA); err != nil {
		return types.Position{}, errors.Join(ErrInvalidPosition, err)
	}
	if position.TokenB, err = convertToken(data.TokenB); err != nil {
		return types.Position{}, errors.Join(ErrInvalidPosition, err)
	}
	if position.Liquidity, err = parseAmount("shares", data.Shares); err != nil {
		return types.Position{}, errors.Join(ErrInvalidPosition, err)
	}
	if position.AmountA, err = parseAmount("amount_a", data.AmountA); err != nil {
		return types.Position{}, errors.Join(ErrInvalidPosition, err)
	}
	if position.AmountB, err = parseAmount("amount_b", data.AmountB); err != nil {
		return types.Position{}, errors.Join(ErrInvalidPosition, err)
	}
	if data.AccruedFees != "" {
		fees, err := sdktypes.ParseCoinsNormalized(data.AccruedFees)
		if err != nil {
			return types.Position{}, errors.Join(ErrInvalidPosition, fmt.Errorf("invalid accrued fees %q: %w", data.AccruedFees, err))
		}
		position.AccruedFees = fees
	}
	return position, nil
}
