package datafetcher

import (
	"context"
	"sort"
	"sync"

	"github.com/elys-network/poolmigrator/internal/types"
)

// MemoryReader serves pools and positions from memory. It backs dry runs
// seeded from a snapshot and the package tests of its callers.
type MemoryReader struct {
	mu        sync.RWMutex
	pools     map[types.PoolID]types.Pool
	positions []types.Position
	listErr   error
	listCalls int
}

func NewMemoryReader(pools []types.Pool, positions []types.Position) *MemoryReader {
	r := &MemoryReader{pools: make(map[types.PoolID]types.Pool, len(pools))}
	for _, p := range pools {
		r.pools[p.ID] = p
	}
	r.positions = append(r.positions, positions...)
	return r
}

// SetListError makes ListPools fail with err until cleared with nil.
func (r *MemoryReader) SetListError(err error) {
	r.mu.Lock()
	r.listErr = err
	r.mu.Unlock()
}

// ListCalls reports how many times ListPools was invoked.
func (r *MemoryReader) ListCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listCalls
}

func (r *MemoryReader) ListPools(_ context.Context) ([]types.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	pools := make([]types.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	return pools, nil
}

func (r *MemoryReader) GetPool(_ context.Context, id types.PoolID) (types.Pool, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id]
	return p, ok, nil
}

func (r *MemoryReader) GetUserPositions(_ context.Context, owner string, pool *types.PoolID) ([]types.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Position
	for _, p := range r.positions {
		if p.Owner != owner {
			continue
		}
		if pool != nil && p.PoolID != *pool {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
