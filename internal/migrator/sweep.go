package migrator

import (
	"context"
	"time"

	"github.com/elys-network/poolmigrator/internal/state"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/google/uuid"
)

// SweepOptions control which positions a sweep migrates and how.
type SweepOptions struct {
	Owner       string
	Filters     types.RouteFilters
	Preferences types.Preferences
	// AllowHighRisk executes plans the builder rated high risk. Off by default.
	AllowHighRisk bool
}

// SweepResult summarises one pass over an owner's positions.
type SweepResult struct {
	Sweep     int
	Positions int
	Skipped   int
	Outcomes  map[types.MigrationStatus]int
}

// RunLoop runs a sweep immediately and then once per interval until ctx is done.
func (m *Migrator) RunLoop(ctx context.Context, interval time.Duration, opts SweepOptions) {
	m.logger.Info().Dur("interval", interval).Str("owner", opts.Owner).Msg("Starting migrator loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunSweep(ctx, opts)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Migrator loop stopped due to context cancellation")
			return
		case <-ticker.C:
			m.RunSweep(ctx, opts)
		}
	}
}

// RunSweep migrates every active position of opts.Owner to its best route, one
// position at a time. Positions without a route or with a high risk plan are skipped.
func (m *Migrator) RunSweep(ctx context.Context, opts SweepOptions) SweepResult {
	sweep := m.nextSweepNumber()
	m.sweepCount.Store(int64(sweep))
	sweepLogger := m.logger.With().Int("sweep", sweep).Str("sweep_id", uuid.NewString()).Logger()
	result := SweepResult{Sweep: sweep, Outcomes: make(map[types.MigrationStatus]int)}

	sweepLogger.Info().Msg("--- Starting migration sweep ---")

	positions, err := m.reader.GetUserPositions(ctx, opts.Owner, nil)
	if err != nil {
		sweepLogger.Error().Err(err).Msg("Sweep aborted: failed to read positions")
		return result
	}

	for _, position := range positions {
		if ctx.Err() != nil {
			sweepLogger.Warn().Msg("Sweep interrupted by context cancellation")
			break
		}
		if !position.Active {
			continue
		}
		result.Positions++

		routes := m.DiscoverRoutes(ctx, position, opts.Filters)
		if len(routes) == 0 {
			sweepLogger.Info().Str("positionID", position.ID).Msg("No migration route, position stays")
			result.Skipped++
			continue
		}

		plan, err := m.CreatePlan(position, &routes[0], opts.Preferences)
		if err != nil {
			sweepLogger.Warn().Err(err).Str("positionID", position.ID).Msg("Plan rejected")
			result.Skipped++
			continue
		}
		if plan.Risk == types.RiskHigh && !opts.AllowHighRisk {
			sweepLogger.Warn().
				Str("positionID", position.ID).
				Str("planID", plan.ID).
				Float64("successProbability", plan.SuccessProbability).
				Msg("Plan is high risk, skipping")
			result.Skipped++
			continue
		}

		events := make(chan types.ProgressEvent, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for event := range events {
				sweepLogger.Info().
					Str("planID", event.PlanID).
					Str("event", string(event.Type)).
					Str("stepType", string(event.StepType)).
					Int("order", event.Order).
					Str("message", event.Message).
					Msg("Migration progress")
			}
		}()

		owner := position.Owner
		if owner == "" {
			owner = opts.Owner
		}
		progress, err := m.executePlan(ctx, plan, owner, events, sweep)
		close(events)
		<-done

		if err != nil {
			sweepLogger.Error().Err(err).Str("planID", plan.ID).Msg("Plan could not be executed")
			result.Skipped++
			continue
		}
		result.Outcomes[progress.Status]++
		if progress.ManualIntervention {
			for _, action := range progress.RecoveryActions {
				sweepLogger.Warn().Str("planID", plan.ID).Msg(action)
			}
		}
	}

	sweepLogger.Info().
		Int("positions", result.Positions).
		Int("skipped", result.Skipped).
		Interface("outcomes", result.Outcomes).
		Msg("--- Migration sweep completed ---")
	return result
}

// nextSweepNumber uses the persistent counter when persistence is on and falls
// back to an in-memory count otherwise.
func (m *Migrator) nextSweepNumber() int {
	if m.persist {
		next, err := state.IncrementSweepNumber()
		if err == nil {
			return next
		}
		m.logger.Error().Err(err).Msg("Failed to increment persistent sweep counter, using local count")
	}
	return int(m.sweepCount.Load()) + 1
}
