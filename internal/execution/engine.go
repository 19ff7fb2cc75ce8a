// Package execution runs migration plans step by step and compensates
// executed steps when a critical step fails.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/metrics"
	"github.com/elys-network/poolmigrator/internal/planner"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/vault"
	"github.com/rs/zerolog"
)

var (
	// ErrDependencyTimeout is recorded when a step's dependencies do not settle in time.
	ErrDependencyTimeout = errors.New("dependencies did not complete in time")
	// ErrPlanAlreadyExecuted rejects a plan whose steps already carry results.
	ErrPlanAlreadyExecuted = errors.New("plan has already been executed")

	errRunCancelled = errors.New("run cancelled")
)

// stepOutcome is how a single step left the run
type stepOutcome int

const (
	stepSettled stepOutcome = iota
	stepCritical
	stepCancelled
)

// Engine executes plans against a dispatcher. One engine may run plans for
// different positions concurrently; it holds no per-plan state.
type Engine struct {
	dispatcher  vault.Dispatcher
	coordinator *Coordinator
	params      types.MigrationParameters
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewEngine(dispatcher vault.Dispatcher, params types.MigrationParameters, m *metrics.Metrics) *Engine {
	return &Engine{
		dispatcher:  dispatcher,
		coordinator: NewCoordinator(dispatcher, m),
		params:      params,
		metrics:     m,
		logger:      logger.GetForComponent("execution_engine"),
		now:         time.Now,
	}
}

// run is the state of one plan execution
type run struct {
	plan     *types.MigrationPlan
	progress *types.Progress
	events   chan<- types.ProgressEvent
	now      func() time.Time

	// settled holds steps whose dependents may proceed: completed ones and
	// ones whose failure was tolerated as non-critical
	settled map[string]bool
}

func (r *run) emit(eventType types.EventType, step *types.Step, message string) {
	if r.events == nil {
		return
	}
	event := types.ProgressEvent{
		PlanID:    r.plan.ID,
		Type:      eventType,
		Status:    r.progress.Status,
		Message:   message,
		Timestamp: r.now().UTC(),
	}
	if step != nil {
		event.StepID = step.ID
		event.StepType = step.Type
		event.Order = step.Order
	}
	r.events <- event
}

func (r *run) recordError(stepID string, kind types.ErrorKind, failure types.FailureKind, message string) {
	r.progress.Errors = append(r.progress.Errors, types.ExecutionError{
		StepID:    stepID,
		Kind:      kind,
		Failure:   failure,
		Message:   message,
		Timestamp: r.now().UTC(),
	})
}

// Execute runs plan for user and returns its terminal progress. Step results are
// written into plan, so a plan runs once: a plan that already carries results is
// rejected, and callers must not share one plan between concurrent runs. Only a
// structurally invalid or already executed plan is returned as an error, before
// any step runs. Events are sent in step order on events, which may be nil; the
// caller must keep draining it until Execute returns. Cancelling ctx stops the
// run between steps or while a step waits on its dependencies.
func (e *Engine) Execute(ctx context.Context, plan *types.MigrationPlan, user string, events chan<- types.ProgressEvent) (*types.Progress, error) {
	if err := planner.ValidatePlan(plan); err != nil {
		e.logger.Error().Err(err).Msg("Refusing to execute invalid plan")
		return nil, err
	}
	for i := range plan.Steps {
		if plan.Steps[i].Result != nil {
			err := errors.Join(ErrPlanAlreadyExecuted, fmt.Errorf("plan %s step %s has a result", plan.ID, plan.Steps[i].ID))
			e.logger.Error().Err(err).Msg("Refusing to execute plan twice")
			return nil, err
		}
	}

	r := &run{
		plan: plan,
		progress: &types.Progress{
			PlanID:          plan.ID,
			Owner:           user,
			Status:          types.StatusPending,
			TotalSteps:      len(plan.Steps),
			StartedAt:       e.now().UTC(),
			ExecutedSteps:   []string{},
			FailedSteps:     []string{},
			RolledBackSteps: []string{},
			Errors:          []types.ExecutionError{},
			RecoveryActions: []string{},
		},
		events:  events,
		now:     e.now,
		settled: make(map[string]bool, len(plan.Steps)),
	}

	runLogger := e.logger.With().Str("planID", plan.ID).Str("owner", user).Logger()
	runLogger.Info().Int("steps", len(plan.Steps)).Str("risk", string(plan.Risk)).Msg("Starting plan execution")

	r.progress.Status = types.StatusInProgress
	r.emit(types.EventPlanStarted, nil, fmt.Sprintf("executing %d steps", len(plan.Steps)))

	var failedCritical *types.Step
	cancelled := false

	for i, step := range orderedSteps(plan) {
		if i > 0 && e.params.InterStepDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.params.InterStepDelay):
			}
		}
		if ctx.Err() != nil {
			cancelled = true
			r.recordError(step.ID, types.ErrorKindCancelled, "", fmt.Sprintf("cancelled before step %d (%s): %v", step.Order, step.Type, ctx.Err()))
			break
		}

		r.progress.CurrentStep = i + 1
		r.emit(types.EventStepStarted, step, "")

		outcome := e.runStep(ctx, r, step, runLogger)
		if outcome == stepCritical {
			failedCritical = step
			break
		}
		if outcome == stepCancelled {
			cancelled = true
			break
		}
	}

	switch {
	case failedCritical != nil:
		e.recover(ctx, r, failedCritical, runLogger)
	case cancelled:
		r.progress.Status = types.StatusCancelled
		if len(r.progress.ExecutedSteps) > 0 {
			r.progress.RecoveryActions = append(r.progress.RecoveryActions,
				fmt.Sprintf("run cancelled after %d of %d steps; executed steps were left in place", len(r.progress.ExecutedSteps), len(plan.Steps)))
		}
	case len(r.progress.FailedSteps) > 0:
		r.progress.Status = types.StatusPartialSuccess
	default:
		r.progress.Status = types.StatusCompleted
	}

	r.progress.FinishedAt = e.now().UTC()
	r.emit(types.EventPlanFinished, nil, string(r.progress.Status))
	e.metrics.PlanFinished(string(r.progress.Status))

	runLogger.Info().
		Str("status", string(r.progress.Status)).
		Int("executed", len(r.progress.ExecutedSteps)).
		Int("failed", len(r.progress.FailedSteps)).
		Int("rolledBack", len(r.progress.RolledBackSteps)).
		Bool("manualIntervention", r.progress.ManualIntervention).
		Dur("duration", r.progress.Duration()).
		Float64("costUSD", r.progress.Resources.CostUSD).
		Msg("Plan execution finished")

	return r.progress, nil
}

// runStep waits for the step's dependencies, dispatches it and records the outcome.
func (e *Engine) runStep(ctx context.Context, r *run, step *types.Step, runLogger zerolog.Logger) stepOutcome {
	started := e.now()

	if err := e.waitForDependencies(ctx, r, step); err != nil {
		if errors.Is(err, errRunCancelled) {
			r.recordError(step.ID, types.ErrorKindCancelled, "", err.Error())
			runLogger.Warn().Str("stepID", step.ID).Msg("Run cancelled while waiting on dependencies")
			return stepCancelled
		}
		step.Result = &types.StepResult{Success: false, Error: err.Error(), StartedAt: started.UTC(), FinishedAt: e.now().UTC()}
		r.progress.FailedSteps = append(r.progress.FailedSteps, step.ID)
		r.recordError(step.ID, types.ErrorKindDependencyTimeout, "", err.Error())
		e.metrics.StepFailed(string(step.Type), string(types.ErrorKindDependencyTimeout), e.now().Sub(started).Seconds())
		r.emit(types.EventStepFailed, step, err.Error())
		runLogger.Error().Err(err).Str("stepID", step.ID).Msg("Step dependencies did not complete")
		return stepCritical
	}

	receipt, err := e.dispatcher.Execute(ctx, step.Type, step.PoolID, step.Params)
	if err == nil && receipt == nil {
		err = vault.NewOperationError(types.FailureUnknown, step.Type, step.PoolID, errors.New("dispatcher returned no receipt"))
	}
	finished := e.now()
	elapsed := finished.Sub(started).Seconds()

	if err == nil {
		step.Result = &types.StepResult{Success: true, Receipt: receipt, StartedAt: started.UTC(), FinishedAt: finished.UTC()}
		r.settled[step.ID] = true
		r.progress.ExecutedSteps = append(r.progress.ExecutedSteps, step.ID)
		r.progress.Resources.Add(receipt.Resources)
		e.metrics.StepSucceeded(string(step.Type), elapsed)
		r.emit(types.EventStepCompleted, step, receipt.ConfirmationID)
		runLogger.Info().
			Str("stepID", step.ID).
			Str("stepType", string(step.Type)).
			Int("order", step.Order).
			Str("confirmationID", receipt.ConfirmationID).
			Msg("Step completed")
		return stepSettled
	}

	failure := vault.KindOf(err)
	critical := step.Critical || e.params.IsCriticalFailure(failure)
	kind := types.ErrorKindNonCriticalStep
	if critical {
		kind = types.ErrorKindCriticalStep
	} else {
		r.settled[step.ID] = true
	}

	step.Result = &types.StepResult{Success: false, Error: err.Error(), StartedAt: started.UTC(), FinishedAt: finished.UTC()}
	r.progress.FailedSteps = append(r.progress.FailedSteps, step.ID)
	r.recordError(step.ID, kind, failure, err.Error())
	e.metrics.StepFailed(string(step.Type), string(kind), elapsed)
	r.emit(types.EventStepFailed, step, err.Error())

	runLogger.Warn().
		Err(err).
		Str("stepID", step.ID).
		Str("stepType", string(step.Type)).
		Str("failure", string(failure)).
		Bool("critical", critical).
		Msg("Step failed")
	if critical {
		return stepCritical
	}
	return stepSettled
}

// waitForDependencies blocks until every dependency has settled or the timeout elapses.
func (e *Engine) waitForDependencies(ctx context.Context, r *run, step *types.Step) error {
	pending := func() []string {
		var missing []string
		for _, dep := range step.DependsOn {
			if !r.settled[dep] {
				missing = append(missing, dep)
			}
		}
		return missing
	}
	if len(pending()) == 0 {
		return nil
	}

	poll := e.params.DependencyPollPeriod
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	timer := time.NewTimer(e.params.DependencyTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Join(errRunCancelled, fmt.Errorf("cancelled while step %s waited on %v: %w", step.ID, pending(), ctx.Err()))
		case <-timer.C:
			return errors.Join(ErrDependencyTimeout,
				fmt.Errorf("step %s still waiting on %v after %s", step.ID, pending(), e.params.DependencyTimeout))
		case <-ticker.C:
			if len(pending()) == 0 {
				return nil
			}
		}
	}
}

// recover moves a run with a critical failure to its terminal state, compensating if a rollback plan exists.
func (e *Engine) recover(ctx context.Context, r *run, failed *types.Step, runLogger zerolog.Logger) {
	if r.plan.Rollback == nil {
		r.progress.Status = types.StatusFailed
		if len(r.progress.ExecutedSteps) > 0 {
			r.progress.ManualIntervention = true
			r.progress.RecoveryActions = append(r.progress.RecoveryActions,
				fmt.Sprintf("step %d (%s) failed critically and no rollback plan was built; %d executed steps need manual review",
					failed.Order, failed.Type, len(r.progress.ExecutedSteps)))
			r.emit(types.EventManualIntervention, failed, "no rollback plan")
		}
		runLogger.Error().Str("stepID", failed.ID).Msg("Critical failure without rollback plan")
		return
	}

	r.progress.Status = types.StatusRollingBack
	r.emit(types.EventRollbackStarted, failed, fmt.Sprintf("compensating %d executed steps", len(r.progress.ExecutedSteps)))
	runLogger.Warn().Str("stepID", failed.ID).Int("executed", len(r.progress.ExecutedSteps)).Msg("Critical failure, rolling back")

	// compensation must finish even if the caller cancelled the forward run
	if e.coordinator.Compensate(context.WithoutCancel(ctx), r) {
		r.progress.Status = types.StatusRolledBack
	} else {
		r.progress.Status = types.StatusFailed
	}
}

// orderedSteps returns the plan's steps sorted by order, keeping list order for ties.
func orderedSteps(plan *types.MigrationPlan) []*types.Step {
	steps := make([]*types.Step, len(plan.Steps))
	for i := range plan.Steps {
		steps[i] = &plan.Steps[i]
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}
