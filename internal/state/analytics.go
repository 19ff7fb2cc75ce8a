package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"
)

// RunRecord is one stored migration run joined with its plan summary.
type RunRecord struct {
	RunID              int64                  `json:"run_id"`
	SweepNumber        int                    `json:"sweep_number"`
	PlanID             string                 `json:"plan_id"`
	PositionID         string                 `json:"position_id"`
	Owner              string                 `json:"owner"`
	SourcePoolID       types.PoolID           `json:"source_pool_id"`
	TargetPoolID       types.PoolID           `json:"target_pool_id"`
	Risk               types.RiskLevel        `json:"risk"`
	Status             types.MigrationStatus  `json:"status"`
	StartedAt          time.Time              `json:"started_at"`
	FinishedAt         *time.Time             `json:"finished_at,omitempty"`
	TotalSteps         int                    `json:"total_steps"`
	ExecutedSteps      []string               `json:"executed_steps"`
	FailedSteps        []string               `json:"failed_steps"`
	RolledBackSteps    []string               `json:"rolled_back_steps"`
	RecoveryActions    []string               `json:"recovery_actions"`
	ManualIntervention bool                   `json:"manual_intervention"`
	Resources          types.ResourceUsage    `json:"resources"`
	Errors             []types.ExecutionError `json:"errors,omitempty"`
	Plan               *types.MigrationPlan   `json:"plan,omitempty"`
}

// MigrationStats represents aggregated outcomes across all stored runs
type MigrationStats struct {
	TotalRuns           int                           `json:"total_runs"`
	ByStatus            map[types.MigrationStatus]int `json:"by_status"`
	ManualInterventions int                           `json:"manual_interventions"`
	TotalCostUSD        float64                       `json:"total_cost_usd"`
	TotalGasUsed        int64                         `json:"total_gas_used"`
	AvgDurationSeconds  float64                       `json:"avg_duration_seconds"`
	LastSweep           int                           `json:"last_sweep"`
}

const runColumns = `
	r.run_id, r.sweep_number, r.plan_id, p.position_id, r.owner, p.source_pool_id, p.target_pool_id, p.risk_level,
	r.status, r.started_at, r.finished_at, r.total_steps,
	r.executed_steps, r.failed_steps, r.rolled_back_steps, r.recovery_actions,
	r.manual_intervention, r.gas_used, r.cost_usd, r.operations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec          RunRecord
		source       int64
		target       int64
		risk, status string
		finishedAt   sql.NullTime
	)
	err := row.Scan(
		&rec.RunID, &rec.SweepNumber, &rec.PlanID, &rec.PositionID, &rec.Owner, &source, &target, &risk,
		&status, &rec.StartedAt, &finishedAt, &rec.TotalSteps,
		pq.Array(&rec.ExecutedSteps), pq.Array(&rec.FailedSteps), pq.Array(&rec.RolledBackSteps), pq.Array(&rec.RecoveryActions),
		&rec.ManualIntervention, &rec.Resources.GasUsed, &rec.Resources.CostUSD, &rec.Resources.Operations,
	)
	if err != nil {
		return nil, err
	}
	rec.SourcePoolID = types.PoolID(source)
	rec.TargetPoolID = types.PoolID(target)
	rec.Risk = types.RiskLevel(risk)
	rec.Status = types.MigrationStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// GetRecentRuns retrieves the most recent runs, newest first
func GetRecentRuns(limit int) ([]RunRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `SELECT ` + runColumns + `
		FROM migration_runs r
		JOIN migration_plans p ON p.plan_id = r.plan_id
		ORDER BY r.started_at DESC
		LIMIT $1`

	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent runs")
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan run row")
			continue // Skip this row and continue with others
		}
		runs = append(runs, *rec)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(runs)).Int("limit", limit).Msg("Retrieved recent runs")
	return runs, nil
}

// GetRunByPlanID retrieves the latest run of a plan with its step errors and the stored plan.
func GetRunByPlanID(planID string) (*RunRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `SELECT ` + runColumns + `, p.plan
		FROM migration_runs r
		JOIN migration_plans p ON p.plan_id = r.plan_id
		WHERE r.plan_id = $1
		ORDER BY r.started_at DESC
		LIMIT 1`

	var planJSON []byte
	rec, err := scanRun(planRow{row: DB.QueryRow(query, planID), plan: &planJSON})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Join(ErrNotFound, fmt.Errorf("no run for plan %s", planID))
		}
		log.Error().Err(err).Str("plan_id", planID).Msg("Failed to query run by plan ID")
		return nil, fmt.Errorf("failed to query run by plan ID: %w", err)
	}

	if len(planJSON) > 0 {
		rec.Plan = &types.MigrationPlan{}
		if err := json.Unmarshal(planJSON, rec.Plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan %s: %w", planID, err)
		}
	}

	rows, err := DB.Query(`
		SELECT COALESCE(step_id, ''), kind, COALESCE(failure, ''), message, occurred_at
		FROM migration_step_errors
		WHERE run_id = $1
		ORDER BY error_id`, rec.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step errors for run %d: %w", rec.RunID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e             types.ExecutionError
			kind, failure string
		)
		if err := rows.Scan(&e.StepID, &kind, &failure, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan step error: %w", err)
		}
		e.Kind = types.ErrorKind(kind)
		e.Failure = types.FailureKind(failure)
		rec.Errors = append(rec.Errors, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during step error iteration: %w", err)
	}

	return rec, nil
}

// planRow appends the plan column to the destinations scanRun passes.
type planRow struct {
	row  *sql.Row
	plan *[]byte
}

func (p planRow) Scan(dest ...any) error {
	return p.row.Scan(append(dest, p.plan)...)
}

// GetMigrationStats retrieves aggregated outcomes across all runs
func GetMigrationStats() (*MigrationStats, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stats := &MigrationStats{ByStatus: make(map[types.MigrationStatus]int)}

	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN manual_intervention THEN 1 END),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(gas_used), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (finished_at - started_at))), 0),
			COALESCE(MAX(sweep_number), 0)
		FROM migration_runs`

	err := DB.QueryRow(query).Scan(
		&stats.TotalRuns,
		&stats.ManualInterventions,
		&stats.TotalCostUSD,
		&stats.TotalGasUsed,
		&stats.AvgDurationSeconds,
		&stats.LastSweep,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration stats: %w", err)
	}

	rows, err := DB.Query(`SELECT status, COUNT(*) FROM migration_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[types.MigrationStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("totalRuns", stats.TotalRuns).Float64("totalCostUSD", stats.TotalCostUSD).Msg("Retrieved migration stats")
	return stats, nil
}
