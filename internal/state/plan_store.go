// ./internal/state/plan_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"
)

// RunMeta links a run record to the sweep and parameter version that produced it.
type RunMeta struct {
	SweepNumber int
	ParamsID    int64 // 0 when parameters were not loaded from the database
}

// SavePlan stores a built plan. Saving the same plan twice is a no-op.
func SavePlan(plan *types.MigrationPlan, owner string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if plan == nil {
		return fmt.Errorf("plan is nil")
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s: %w", plan.ID, err)
	}

	query := `
		INSERT INTO migration_plans (
			plan_id, position_id, owner, source_pool_id, target_pool_id,
			risk_level, success_probability, estimated_cost_usd, step_count, plan, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (plan_id) DO NOTHING;`

	_, err = DB.Exec(query,
		plan.ID, plan.PositionID, owner, int64(plan.Route.SourcePoolID), int64(plan.Route.TargetPoolID),
		string(plan.Risk), plan.SuccessProbability, plan.EstimatedCostUSD, len(plan.Steps), planJSON, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.ID, err)
	}

	log.Debug().Str("plan_id", plan.ID).Str("owner", owner).Msg("Migration plan saved to database")
	return nil
}

// SaveProgress stores the terminal progress of one run with its error entries.
func SaveProgress(progress *types.Progress, meta RunMeta) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if progress == nil {
		return 0, fmt.Errorf("progress is nil")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	var finishedAt sql.NullTime
	if !progress.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: progress.FinishedAt, Valid: true}
	}
	var paramsID sql.NullInt64
	if meta.ParamsID > 0 {
		paramsID = sql.NullInt64{Int64: meta.ParamsID, Valid: true}
	}

	query := `
		INSERT INTO migration_runs (
			plan_id, sweep_number, params_id, owner, status, started_at, finished_at, total_steps,
			executed_steps, failed_steps, rolled_back_steps, recovery_actions,
			manual_intervention, gas_used, cost_usd, operations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING run_id;`

	var runID int64
	err = tx.QueryRow(query,
		progress.PlanID, meta.SweepNumber, paramsID, progress.Owner, string(progress.Status),
		progress.StartedAt, finishedAt, progress.TotalSteps,
		pq.Array(progress.ExecutedSteps), pq.Array(progress.FailedSteps),
		pq.Array(progress.RolledBackSteps), pq.Array(progress.RecoveryActions),
		progress.ManualIntervention, progress.Resources.GasUsed, progress.Resources.CostUSD, progress.Resources.Operations,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("failed to save run for plan %s: %w", progress.PlanID, err)
	}

	for _, e := range progress.Errors {
		_, err = tx.Exec(`
			INSERT INTO migration_step_errors (run_id, step_id, kind, failure, message, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6);`,
			runID, e.StepID, string(e.Kind), string(e.Failure), e.Message, e.Timestamp,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to save step error for run %d: %w", runID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int64("run_id", runID).
		Str("plan_id", progress.PlanID).
		Str("status", string(progress.Status)).
		Int("sweep", meta.SweepNumber).
		Msg("Migration run saved to database")
	return runID, nil
}
