package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/metrics"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/vault"
	"github.com/rs/zerolog"
)

// Coordinator compensates executed steps in reverse order using the rollback
// descriptors captured when the plan was built.
type Coordinator struct {
	dispatcher vault.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewCoordinator(dispatcher vault.Dispatcher, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.GetForComponent("rollback_coordinator"),
	}
}

// Compensate sweeps the run's executed steps from last to first. A failed
// compensation is recorded and the sweep continues; nothing is retried. It
// reports whether every compensation that was attempted succeeded.
func (c *Coordinator) Compensate(ctx context.Context, r *run) bool {
	executed := r.progress.ExecutedSteps
	allCompensated := true

	for i := len(executed) - 1; i >= 0; i-- {
		step, ok := r.plan.StepByID(executed[i])
		if !ok {
			continue
		}

		switch {
		case step.Rollback == nil && step.Type == types.StepVerifyPosition:
			r.progress.RecoveryActions = append(r.progress.RecoveryActions,
				fmt.Sprintf("step %d (%s): read-only, nothing to compensate", step.Order, step.Type))
			c.metrics.Compensation("skipped")

		case step.Rollback == nil || !step.Rollback.Reversible:
			note := "no compensating action exists"
			if step.Rollback != nil && step.Rollback.Note != "" {
				note = step.Rollback.Note
			}
			r.progress.ManualIntervention = true
			r.progress.RecoveryActions = append(r.progress.RecoveryActions,
				fmt.Sprintf("MANUAL: step %d (%s) was not rolled back: %s", step.Order, step.Type, note))
			r.emit(types.EventManualIntervention, step, note)
			c.metrics.Compensation("manual")
			c.logger.Warn().Str("planID", r.plan.ID).Str("stepID", step.ID).Str("stepType", string(step.Type)).Msg("Step is not reversible, manual intervention required")

		default:
			if !c.compensate(ctx, r, step) {
				allCompensated = false
			}
		}
	}

	if r.progress.ManualIntervention && r.plan.Rollback != nil {
		for _, instruction := range r.plan.Rollback.RecoveryInstructions {
			r.progress.RecoveryActions = append(r.progress.RecoveryActions, "INSTRUCTION: "+instruction)
		}
		if len(r.plan.Rollback.EmergencyContacts) > 0 {
			r.progress.RecoveryActions = append(r.progress.RecoveryActions,
				"CONTACT: "+strings.Join(r.plan.Rollback.EmergencyContacts, ", "))
		}
	}

	c.logger.Info().
		Str("planID", r.plan.ID).
		Int("rolledBack", len(r.progress.RolledBackSteps)).
		Bool("allCompensated", allCompensated).
		Bool("manualIntervention", r.progress.ManualIntervention).
		Msg("Rollback sweep finished")

	return allCompensated
}

// compensate dispatches the step's compensating action and records the outcome.
func (c *Coordinator) compensate(ctx context.Context, r *run, step *types.Step) bool {
	action := step.Rollback
	params := action.Params

	// a deposit's compensation withdraws the shares it actually minted
	if action.Type == types.StepRemoveLiquidity && (params.Liquidity.IsNil() || params.Liquidity.IsZero()) &&
		step.Result != nil && step.Result.Receipt != nil && !step.Result.Receipt.LiquidityAdded.IsNil() {
		params.Liquidity = step.Result.Receipt.LiquidityAdded
	}

	receipt, err := c.dispatcher.Execute(ctx, action.Type, action.PoolID, params)
	if err == nil && receipt == nil {
		err = fmt.Errorf("dispatcher returned no receipt")
	}
	if err != nil {
		failure := vault.KindOf(err)
		message := fmt.Sprintf("compensation %s for step %d (%s) failed: %v", action.Type, step.Order, step.Type, err)
		r.recordError(step.ID, types.ErrorKindRollback, failure, message)
		r.progress.ManualIntervention = true
		r.progress.RecoveryActions = append(r.progress.RecoveryActions, "FAILED: "+message)
		r.emit(types.EventRollbackStepFailed, step, err.Error())
		c.metrics.Compensation("failed")
		c.logger.Error().Err(err).Str("planID", r.plan.ID).Str("stepID", step.ID).Msg("Compensation failed")
		return false
	}

	r.progress.RolledBackSteps = append(r.progress.RolledBackSteps, step.ID)
	r.progress.Resources.Add(receipt.Resources)
	r.progress.RecoveryActions = append(r.progress.RecoveryActions,
		fmt.Sprintf("step %d (%s) compensated by %s on pool %d (%s)", step.Order, step.Type, action.Type, action.PoolID, receipt.ConfirmationID))
	r.emit(types.EventStepRolledBack, step, receipt.ConfirmationID)
	c.metrics.Compensation("compensated")
	c.logger.Info().Str("planID", r.plan.ID).Str("stepID", step.ID).Str("confirmationID", receipt.ConfirmationID).Msg("Step compensated")
	return true
}
