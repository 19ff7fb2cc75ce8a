package state

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container, points the package connection at it
// and applies the schema.
func setupTestDB(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("migrator"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	require.NoError(t, InitDB(DBConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		DBName:   "migrator",
		SSLMode:  "disable",
	}))
	t.Cleanup(func() {
		CloseDB()
		DB = nil
	})
	require.NoError(t, EnsureSchema())
	require.NoError(t, EnsureSchema(), "schema is idempotent")
}

func testPlan(id string) *types.MigrationPlan {
	return &types.MigrationPlan{
		ID:         id,
		PositionID: "pos-1",
		Route:      types.Route{ID: "route-1-2", SourcePoolID: 1, TargetPoolID: 2, Confidence: 0.9},
		Steps: []types.Step{
			{ID: id + "-remove", Order: 1, Type: types.StepRemoveLiquidity, PoolID: 1, Critical: true,
				Params: types.StepParams{Liquidity: sdkmath.NewInt(50_000)}},
			{ID: id + "-add", Order: 2, Type: types.StepAddLiquidity, PoolID: 2, Critical: true, DependsOn: []string{id + "-remove"}},
		},
		EstimatedCostUSD:   0.1,
		Risk:               types.RiskLow,
		SuccessProbability: 0.9,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestState_Postgres(t *testing.T) {
	setupTestDB(t)

	t.Run("connection", func(t *testing.T) {
		assert.NoError(t, TestDBConnection())
	})

	t.Run("parameters", func(t *testing.T) {
		_, _, err := LoadActiveMigrationParameters("strategy")
		assert.ErrorIs(t, err, ErrNotFound)

		v1 := types.MigrationParameters{MaxRoutes: 10, RouteCacheTTL: time.Minute, CriticalFailureKinds: []types.FailureKind{types.FailurePoolNotFound}}
		id1, err := SaveMigrationParameters(v1, "strategy", 1, true)
		require.NoError(t, err)

		v2 := v1
		v2.MaxRoutes = 3
		id2, err := SaveMigrationParameters(v2, "strategy", 2, true)
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		loaded, id, err := LoadActiveMigrationParameters("strategy")
		require.NoError(t, err)
		assert.Equal(t, id2, id)
		assert.Equal(t, 3, loaded.MaxRoutes)
		assert.Equal(t, time.Minute, loaded.RouteCacheTTL)
		assert.Equal(t, []types.FailureKind{types.FailurePoolNotFound}, loaded.CriticalFailureKinds)

		latest, err := LatestMigrationParametersVersion("strategy")
		require.NoError(t, err)
		assert.Equal(t, 2, latest)

		none, err := LatestMigrationParametersVersion("unknown")
		require.NoError(t, err)
		assert.Zero(t, none)

		_, err = SaveMigrationParameters(v2, "strategy", 2, false)
		assert.Error(t, err, "versions are unique per config")
	})

	t.Run("sweep counter", func(t *testing.T) {
		require.NoError(t, ResetSweepNumber(0))

		next, err := IncrementSweepNumber()
		require.NoError(t, err)
		assert.Equal(t, 1, next)
		next, err = IncrementSweepNumber()
		require.NoError(t, err)
		assert.Equal(t, 2, next)

		current, err := GetCurrentSweepNumber()
		require.NoError(t, err)
		assert.Equal(t, 2, current)

		assert.Error(t, ResetSweepNumber(-1))
	})

	t.Run("runs", func(t *testing.T) {
		plan := testPlan("plan-rolled-back")
		require.NoError(t, SavePlan(plan, "elys1owner"))
		require.NoError(t, SavePlan(plan, "elys1owner"), "saving twice is a no-op")

		started := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
		progress := &types.Progress{
			PlanID:             plan.ID,
			Owner:              "elys1owner",
			Status:             types.StatusRolledBack,
			TotalSteps:         2,
			ExecutedSteps:      []string{plan.ID + "-remove"},
			FailedSteps:        []string{plan.ID + "-add"},
			RolledBackSteps:    []string{plan.ID + "-remove"},
			StartedAt:          started,
			FinishedAt:         started.Add(30 * time.Second),
			Resources:          types.ResourceUsage{GasUsed: 300_000, CostUSD: 0.15, Operations: 3},
			RecoveryActions:    []string{"step 1 (remove_liquidity) compensated"},
			ManualIntervention: false,
			Errors: []types.ExecutionError{{
				StepID:    plan.ID + "-add",
				Kind:      types.ErrorKindCriticalStep,
				Failure:   types.FailureSlippageExceeded,
				Message:   "price moved",
				Timestamp: started.Add(20 * time.Second),
			}},
		}
		runID, err := SaveProgress(progress, RunMeta{SweepNumber: 2})
		require.NoError(t, err)
		assert.Positive(t, runID)

		completed := testPlan("plan-completed")
		require.NoError(t, SavePlan(completed, "elys1owner"))
		_, err = SaveProgress(&types.Progress{
			PlanID:     completed.ID,
			Owner:      "elys1owner",
			Status:     types.StatusCompleted,
			TotalSteps: 2,
			StartedAt:  started.Add(time.Second),
			FinishedAt: started.Add(11 * time.Second),
			Resources:  types.ResourceUsage{GasUsed: 200_000, CostUSD: 0.1, Operations: 2},
		}, RunMeta{SweepNumber: 3})
		require.NoError(t, err)

		rec, err := GetRunByPlanID(plan.ID)
		require.NoError(t, err)
		assert.Equal(t, runID, rec.RunID)
		assert.Equal(t, types.StatusRolledBack, rec.Status)
		assert.Equal(t, types.PoolID(2), rec.TargetPoolID)
		assert.Equal(t, types.RiskLow, rec.Risk)
		assert.Equal(t, progress.RolledBackSteps, rec.RolledBackSteps)
		assert.Equal(t, progress.RecoveryActions, rec.RecoveryActions)
		assert.Equal(t, int64(300_000), rec.Resources.GasUsed)
		assert.InDelta(t, 0.15, rec.Resources.CostUSD, 1e-9)
		require.NotNil(t, rec.FinishedAt)
		require.Len(t, rec.Errors, 1)
		assert.Equal(t, types.FailureSlippageExceeded, rec.Errors[0].Failure)
		require.NotNil(t, rec.Plan)
		assert.Len(t, rec.Plan.Steps, 2)
		assert.True(t, rec.Plan.Steps[0].Params.Liquidity.Equal(sdkmath.NewInt(50_000)))

		_, err = GetRunByPlanID("missing")
		assert.ErrorIs(t, err, ErrNotFound)

		recent, err := GetRecentRuns(10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, completed.ID, recent[0].PlanID, "newest first")

		stats, err := GetMigrationStats()
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalRuns)
		assert.Equal(t, 1, stats.ByStatus[types.StatusRolledBack])
		assert.Equal(t, 1, stats.ByStatus[types.StatusCompleted])
		assert.Equal(t, int64(500_000), stats.TotalGasUsed)
		assert.InDelta(t, 0.25, stats.TotalCostUSD, 1e-9)
		assert.InDelta(t, 20, stats.AvgDurationSeconds, 1e-6)
		assert.Equal(t, 3, stats.LastSweep)
	})
}

func TestState_WithoutDatabase(t *testing.T) {
	saved := DB
	DB = nil
	t.Cleanup(func() { DB = saved })

	assert.Error(t, EnsureSchema())
	assert.Error(t, TestDBConnection())
	assert.Error(t, SavePlan(testPlan("p"), "owner"))
	_, err := SaveProgress(&types.Progress{}, RunMeta{})
	assert.Error(t, err)
	_, err = IncrementSweepNumber()
	assert.Error(t, err)
	_, err = GetRecentRuns(5)
	assert.Error(t, err)
}

func TestDBConfigFromEnv(t *testing.T) {
	t.Run("disabled without host", func(t *testing.T) {
		t.Setenv("DB_HOST", "")
		_, ok, err := DBConfigFromEnv()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_PORT", "")
		t.Setenv("DB_USER", "migrator")
		t.Setenv("DB_NAME", "migrations")
		t.Setenv("DB_SSLMODE", "")
		cfg, ok, err := DBConfigFromEnv()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "disable", cfg.SSLMode)
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_PORT", "five")
		t.Setenv("DB_USER", "migrator")
		t.Setenv("DB_NAME", "migrations")
		_, _, err := DBConfigFromEnv()
		assert.Error(t, err)
	})

	t.Run("missing user", func(t *testing.T) {
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_PORT", "")
		t.Setenv("DB_USER", "")
		t.Setenv("DB_NAME", "migrations")
		_, _, err := DBConfigFromEnv()
		assert.Error(t, err)
	})
}
