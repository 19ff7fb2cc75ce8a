package datafetcher

import (
	"context"
	"errors"

	"github.com/elys-network/poolmigrator/internal/types"
)

var (
	ErrAPIResponseInvalid = errors.New("API response validation failed")
	ErrInvalidPoolData    = errors.New("invalid pool data")
	ErrInvalidPosition    = errors.New("invalid position data")
)

// PoolReader is the read side of the chain the migrator depends on.
// Implementations may fail transiently; callers treat errors as "no data".
type PoolReader interface {
	// ListPools returns every pool known to the reader.
	ListPools(ctx context.Context) ([]types.Pool, error)

	// GetPool reports found=false when the pool does not exist. An error means
	// the reader could not answer, not that the pool is missing.
	GetPool(ctx context.Context, id types.PoolID) (pool types.Pool, found bool, err error)

	// GetUserPositions returns the owner's positions, optionally restricted to one pool.
	GetUserPositions(ctx context.Context, owner string, pool *types.PoolID) ([]types.Position, error)
}
