// Package migrator wires route discovery, planning and execution into one
// engine instance. Each Migrator owns its cache; nothing is shared through globals.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/elys-network/poolmigrator/internal/analyzer"
	"github.com/elys-network/poolmigrator/internal/cache"
	"github.com/elys-network/poolmigrator/internal/datafetcher"
	"github.com/elys-network/poolmigrator/internal/execution"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/metrics"
	"github.com/elys-network/poolmigrator/internal/planner"
	"github.com/elys-network/poolmigrator/internal/state"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/vault"
	"github.com/rs/zerolog"
)

const (
	// Export constants for use in main.go
	DEFAULT_PARAMS_CONFIG_NAME    = "default_migration_strategy"
	DEFAULT_PARAMS_CONFIG_VERSION = 1
)

var (
	ErrInvalidConfig = errors.New("invalid migrator configuration")
	ErrNoRoute       = errors.New("no migration route found")
)

// Migrator is one engine instance with its collaborators injected.
type Migrator struct {
	logger     zerolog.Logger
	reader     datafetcher.PoolReader
	dispatcher vault.Dispatcher
	cache      cache.Store
	metrics    *metrics.Metrics
	params     types.MigrationParameters

	discovery *analyzer.RouteDiscovery
	assessor  *analyzer.Assessor
	planner   *planner.Planner
	engine    *execution.Engine

	// Persistence
	persist      bool
	paramsID     int64
	savePlan     func(*types.MigrationPlan, string) error
	saveProgress func(*types.Progress, state.RunMeta) (int64, error)

	// Runtime state
	sweepCount atomic.Int64
}

// Config holds the configuration for creating a new Migrator instance
type Config struct {
	Reader     datafetcher.PoolReader
	Dispatcher vault.Dispatcher
	Params     *types.MigrationParameters

	// Cache defaults to an in-process TTL cache sized from Params.
	Cache cache.Store
	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Persist stores plans and run outcomes through the state package.
	Persist bool
	// ParamsID is the stored parameter version run records point at.
	ParamsID int64
}

// NewMigrator creates a new Migrator instance with dependency injection
func NewMigrator(cfg Config) (*Migrator, error) {
	if err := validateMigratorConfig(cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	params := *cfg.Params
	store := cfg.Cache
	if store == nil {
		store = cache.NewMemory(params.RouteCacheTTL, params.RouteCacheMaxSize)
	}
	assessor := analyzer.NewAssessor(params)

	m := &Migrator{
		logger:     logger.GetForComponent("migrator"),
		reader:     cfg.Reader,
		dispatcher: cfg.Dispatcher,
		cache:      store,
		metrics:    cfg.Metrics,
		params:     params,
		discovery:  analyzer.NewRouteDiscovery(cfg.Reader, assessor, store, cfg.Metrics, params),
		assessor:   assessor,
		planner:    planner.NewPlanner(params),
		engine:     execution.NewEngine(cfg.Dispatcher, params, cfg.Metrics),
		persist:    cfg.Persist,
		paramsID:   cfg.ParamsID,

		savePlan:     state.SavePlan,
		saveProgress: state.SaveProgress,
	}

	m.logger.Info().
		Int("maxRoutes", params.MaxRoutes).
		Dur("routeCacheTTL", params.RouteCacheTTL).
		Bool("persist", m.persist).
		Msg("Migrator instance created")

	return m, nil
}

// validateMigratorConfig validates the Migrator configuration
func validateMigratorConfig(cfg Config) error {
	if cfg.Reader == nil {
		return fmt.Errorf("pool reader cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return fmt.Errorf("dispatcher cannot be nil")
	}
	if cfg.Params == nil {
		return fmt.Errorf("migration parameters cannot be nil")
	}
	if cfg.Params.MaxRoutes <= 0 {
		return fmt.Errorf("max routes must be positive, got %d", cfg.Params.MaxRoutes)
	}
	if cfg.Params.DependencyTimeout <= 0 {
		return fmt.Errorf("dependency timeout must be positive, got %s", cfg.Params.DependencyTimeout)
	}
	if cfg.Params.InterStepDelay < 0 {
		return fmt.Errorf("inter-step delay cannot be negative, got %s", cfg.Params.InterStepDelay)
	}
	return nil
}

// DiscoverRoutes returns candidate routes for position, best first. It never
// fails: unreadable pool data yields an empty list.
func (m *Migrator) DiscoverRoutes(ctx context.Context, position types.Position, filters types.RouteFilters) []types.Route {
	return m.discovery.Discover(ctx, position, filters)
}

// AssessCompatibility scores target for position. A nil target is reported as
// incompatible with a warning. Results are cached alongside routes.
func (m *Migrator) AssessCompatibility(ctx context.Context, position types.Position, target *types.Pool) types.Compatibility {
	if target == nil {
		return m.assessor.Assess(position, nil, nil)
	}

	key := analyzer.CompatibilityCacheKey(position, target.ID)
	var cached types.Compatibility
	if hit, err := m.cache.Get(ctx, key, &cached); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Compatibility cache read failed")
	} else if hit {
		m.metrics.CacheLookup(true)
		return cached
	}
	m.metrics.CacheLookup(false)

	var source *types.Pool
	pool, found, err := m.reader.GetPool(ctx, position.PoolID)
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Uint64("poolID", uint64(position.PoolID)).Msg("Source pool unreadable, skipping fee comparison")
	case found:
		source = &pool
	}

	result := m.assessor.Assess(position, target, source)
	if err := m.cache.Set(ctx, key, result); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Compatibility cache write failed")
	}
	return result
}

// CreatePlan builds a plan for moving position along route. Invalid input is
// returned as an error wrapping planner.ErrValidation.
func (m *Migrator) CreatePlan(position types.Position, route *types.Route, prefs types.Preferences) (*types.MigrationPlan, error) {
	return m.planner.CreatePlan(position, route, prefs)
}

// ExecutePlan runs plan for user and returns its terminal progress. Events are
// sent on events, which may be nil. When persistence is on the plan and its
// outcome are stored; a storage failure is logged and does not change the outcome.
func (m *Migrator) ExecutePlan(ctx context.Context, plan *types.MigrationPlan, user string, events chan<- types.ProgressEvent) (*types.Progress, error) {
	return m.executePlan(ctx, plan, user, events, 0)
}

// executePlan records the run under sweep, which is 0 outside a sweep.
func (m *Migrator) executePlan(ctx context.Context, plan *types.MigrationPlan, user string, events chan<- types.ProgressEvent, sweep int) (*types.Progress, error) {
	if m.persist && plan != nil {
		if err := m.savePlan(plan, user); err != nil {
			m.logger.Error().Err(err).Str("planID", plan.ID).Msg("Failed to persist plan")
		}
	}

	progress, err := m.engine.Execute(ctx, plan, user, events)
	if err != nil {
		return nil, err
	}

	if m.persist {
		meta := state.RunMeta{SweepNumber: sweep, ParamsID: m.paramsID}
		if _, err := m.saveProgress(progress, meta); err != nil {
			m.logger.Error().Err(err).Str("planID", plan.ID).Msg("Failed to persist run outcome")
		}
	}
	return progress, nil
}

// ClearCache drops every cached route and compatibility result.
func (m *Migrator) ClearCache(ctx context.Context) error {
	return m.cache.Clear(ctx)
}

func (m *Migrator) CacheStats(ctx context.Context) (cache.Stats, error) {
	return m.cache.Stats(ctx)
}

// MigratePosition discovers routes for position, plans the best one and executes it.
func (m *Migrator) MigratePosition(ctx context.Context, position types.Position, filters types.RouteFilters, prefs types.Preferences, events chan<- types.ProgressEvent) (*types.MigrationPlan, *types.Progress, error) {
	routes := m.DiscoverRoutes(ctx, position, filters)
	if len(routes) == 0 {
		return nil, nil, errors.Join(ErrNoRoute, fmt.Errorf("position %s in pool %d", position.ID, position.PoolID))
	}
	best := routes[0]

	plan, err := m.CreatePlan(position, &best, prefs)
	if err != nil {
		return nil, nil, err
	}

	progress, err := m.ExecutePlan(ctx, plan, position.Owner, events)
	if err != nil {
		return plan, nil, err
	}
	return plan, progress, nil
}
