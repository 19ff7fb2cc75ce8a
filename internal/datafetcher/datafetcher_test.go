package datafetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolsJSON = `[
  {"pool_id": "1", "token_a": {"symbol": "ATOM", "denom": "uatom", "decimals": 6, "price_usd": 10},
   "token_b": {"symbol": "USDC", "denom": "uusdc", "decimals": 6, "price_usd": 1},
   "balance_a": "1000000000", "balance_b": "10000000000", "total_shares": "5000000",
   "tvl_usd": 20000, "volume_24h_usd": 1500, "swap_fee": 0.003, "fees_apr": 0.12},
  {"pool_id": "abc", "token_a": {"denom": "uatom", "decimals": 6}, "token_b": {"denom": "uusdc", "decimals": 6}},
  {"pool_id": "3", "token_a": {"denom": "uatom", "decimals": 6}, "token_b": {"denom": "uosmo", "decimals": 6},
   "balance_a": "-5", "balance_b": "1"}
]`

const positionsJSON = `[
  {"position_id": "pos-1", "owner": "elys1owner", "pool_id": "1",
   "token_a": {"symbol": "ATOM", "denom": "uatom", "decimals": 6, "price_usd": 10},
   "token_b": {"symbol": "USDC", "denom": "uusdc", "decimals": 6, "price_usd": 1},
   "shares": "50000", "amount_a": "100000000", "amount_b": "1000000000",
   "accrued_fees": "120uatom,45uusdc", "created_at": "2025-01-02T03:04:05Z", "active": true},
  {"position_id": "", "owner": "elys1owner", "pool_id": "1"}
]`

func newIndexer(t *testing.T, handler http.HandlerFunc) *IndexerReader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	r, err := NewIndexerReader(server.URL + "/")
	require.NoError(t, err)
	return r
}

func TestNewIndexerReader_RequiresURL(t *testing.T) {
	_, err := NewIndexerReader("")
	assert.Error(t, err)
}

func TestIndexerReader_ListPoolsSkipsInvalidEntries(t *testing.T) {
	r := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, POOLS_API_ROUTE, req.URL.Path)
		_, _ = w.Write([]byte(poolsJSON))
	})

	pools, err := r.ListPools(context.Background())
	require.NoError(t, err)

	require.Len(t, pools, 1)
	pool := pools[0]
	assert.Equal(t, types.PoolID(1), pool.ID)
	assert.Equal(t, "uatom", pool.TokenA.Denom)
	assert.True(t, pool.BalanceB.Equal(sdkmath.NewInt(10_000_000_000)))
	assert.InDelta(t, 0.003, pool.SwapFee, 1e-12)
	assert.InDelta(t, 0.12, pool.FeesAPR, 1e-12)
}

func TestIndexerReader_GetPool(t *testing.T) {
	r := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case POOLS_API_ROUTE + "/1":
			_, _ = w.Write([]byte(`{"pool_id": "1", "token_a": {"denom": "uatom", "decimals": 6, "price_usd": 10},
				"token_b": {"denom": "uusdc", "decimals": 6, "price_usd": 1}, "balance_a": "1", "balance_b": "1", "tvl_usd": 100}`))
		default:
			http.NotFound(w, req)
		}
	})
	ctx := context.Background()

	pool, found, err := r.GetPool(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, types.PoolID(1), pool.ID)

	_, found, err = r.GetPool(ctx, 99)
	assert.NoError(t, err, "a missing pool is not an error")
	assert.False(t, found)
}

func TestIndexerReader_GetUserPositions(t *testing.T) {
	r := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, POSITIONS_API_ROUTE, req.URL.Path)
		assert.Equal(t, "elys1owner", req.URL.Query().Get("owner"))
		assert.Equal(t, "1", req.URL.Query().Get("pool_id"))
		_, _ = w.Write([]byte(positionsJSON))
	})

	pool := types.PoolID(1)
	positions, err := r.GetUserPositions(context.Background(), "elys1owner", &pool)
	require.NoError(t, err)

	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "pos-1", p.ID)
	assert.True(t, p.Liquidity.Equal(sdkmath.NewInt(50_000)))
	assert.True(t, p.Active)
	assert.True(t, p.HasUnclaimedFees())
	assert.Equal(t, int64(120), p.AccruedFees.AmountOf("uatom").Int64())
	assert.Equal(t, 2025, p.CreatedAt.Year())
}

func TestIndexerReader_RejectsEmptyOwner(t *testing.T) {
	r := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := r.GetUserPositions(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestIndexerReader_ServerErrors(t *testing.T) {
	r := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := r.ListPools(context.Background())
	assert.ErrorIs(t, err, ErrAPIResponseInvalid)

	empty := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {})
	_, err = empty.ListPools(context.Background())
	assert.ErrorIs(t, err, ErrAPIResponseInvalid)

	garbage := newIndexer(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})
	_, err = garbage.ListPools(context.Background())
	assert.Error(t, err)
}

func TestMemoryReader(t *testing.T) {
	pools := []types.Pool{{ID: 2}, {ID: 1}}
	positions := []types.Position{
		{ID: "a", Owner: "alice", PoolID: 1},
		{ID: "b", Owner: "alice", PoolID: 2},
		{ID: "c", Owner: "bob", PoolID: 1},
	}
	r := NewMemoryReader(pools, positions)
	ctx := context.Background()

	listed, err := r.ListPools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.PoolID{1, 2}, []types.PoolID{listed[0].ID, listed[1].ID})
	assert.Equal(t, 1, r.ListCalls())

	_, found, err := r.GetPool(ctx, 3)
	assert.NoError(t, err)
	assert.False(t, found)

	all, err := r.GetUserPositions(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pool := types.PoolID(2)
	one, err := r.GetUserPositions(ctx, "alice", &pool)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].ID)

	r.SetListError(errors.New("down"))
	_, err = r.ListPools(ctx)
	assert.Error(t, err)
	r.SetListError(nil)
	_, err = r.ListPools(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, r.ListCalls())
}
