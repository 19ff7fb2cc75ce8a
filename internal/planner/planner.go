package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Error definitions for zero-tolerance error handling. Every error returned by
// this package also matches ErrValidation.
var (
	ErrValidation         = errors.New("migration input is invalid")
	ErrMissingRoute       = errors.New("route is missing")
	ErrRouteMismatch      = errors.New("route does not start at the position's pool")
	ErrSelfRoute          = errors.New("route targets its own source pool")
	ErrBridgeMismatch     = errors.New("route bridge flag disagrees with its swaps")
	ErrInvalidPosition    = errors.New("position is invalid for migration")
	ErrInvalidPreferences = errors.New("preferences contain invalid values")
	ErrInvalidPlan        = errors.New("plan structure is invalid")
	ErrMathematicalError  = errors.New("mathematical calculation error")
)

// Risk thresholds
const (
	highRiskConfidence   = 0.6
	mediumRiskConfidence = 0.75
	highRiskHops         = 3
	budgetWarningShare   = 0.8
)

// Planner turns a chosen route into an ordered, dependency-linked plan.
type Planner struct {
	params types.MigrationParameters
	logger zerolog.Logger
	now    func() time.Time
}

func NewPlanner(params types.MigrationParameters) *Planner {
	return &Planner{
		params: params,
		logger: logger.GetForComponent("migration_planner"),
		now:    time.Now,
	}
}

// CreatePlan builds the plan for moving position along route. It fails only on
// structurally invalid input; a risky route still gets a plan with a high risk level.
func (p *Planner) CreatePlan(position types.Position, route *types.Route, prefs types.Preferences) (*types.MigrationPlan, error) {
	if err := validateInputs(position, route, &prefs); err != nil {
		p.logger.Error().Err(err).Str("positionID", position.ID).Msg("Plan input validation failed")
		return nil, err
	}

	steps, err := p.buildSteps(position, *route, prefs)
	if err != nil {
		p.logger.Error().Err(err).Str("positionID", position.ID).Msg("Step construction failed")
		return nil, err
	}

	plan := &types.MigrationPlan{
		ID:         uuid.NewString(),
		PositionID: position.ID,
		Route:      *route,
		Steps:      steps,
		CreatedAt:  p.now().UTC(),
	}

	for i := range plan.Steps {
		plan.EstimatedCostUSD += plan.Steps[i].EstimatedCostUSD
		plan.EstimatedDuration += plan.Steps[i].EstimatedDuration
		if !plan.Steps[i].Type.IsReversible() && plan.Steps[i].Type != types.StepVerifyPosition {
			plan.NonReversibleSteps = append(plan.NonReversibleSteps, plan.Steps[i].ID)
		}
	}
	if len(plan.Steps) > 1 {
		plan.EstimatedDuration += time.Duration(len(plan.Steps)-1) * p.params.InterStepDelay
	}

	plan.Risk = AssessRisk(*route, plan.EstimatedCostUSD, prefs)
	plan.SuccessProbability = SuccessProbability(plan.Risk, route.Confidence, prefs.Priority)

	if prefs.BuildRollback {
		plan.Rollback = p.buildRollbackPlan(position, *route, plan.Steps)
	} else {
		// descriptors are only attached when a rollback plan was requested
		for i := range plan.Steps {
			plan.Steps[i].Rollback = nil
		}
	}

	if err := ValidatePlan(plan); err != nil {
		p.logger.Error().Err(err).Str("planID", plan.ID).Msg("Generated plan failed validation")
		return nil, err
	}

	p.logger.Info().
		Str("planID", plan.ID).
		Str("positionID", position.ID).
		Uint64("sourcePool", uint64(route.SourcePoolID)).
		Uint64("targetPool", uint64(route.TargetPoolID)).
		Int("steps", len(plan.Steps)).
		Str("risk", string(plan.Risk)).
		Float64("successProbability", plan.SuccessProbability).
		Float64("estimatedCostUSD", plan.EstimatedCostUSD).
		Int("nonReversibleSteps", len(plan.NonReversibleSteps)).
		Msg("Migration plan created")

	return plan, nil
}

// buildSteps lays out claim, remove, swaps, add and verify. Each step depends on the one before it,
// and every step carries the compensating action computed from the state before it runs.
func (p *Planner) buildSteps(position types.Position, route types.Route, prefs types.Preferences) ([]types.Step, error) {
	var steps []types.Step
	order := 0
	var previous string

	newStep := func(stepType types.StepType, pool types.PoolID, critical bool, params types.StepParams) types.Step {
		order++
		step := types.Step{
			ID:                uuid.NewString(),
			Order:             order,
			Type:              stepType,
			PoolID:            pool,
			Critical:          critical,
			EstimatedCostUSD:  p.params.GasCostPerOperationUSD,
			EstimatedDuration: p.params.OperationDuration,
			Params:            params,
		}
		if previous != "" {
			step.DependsOn = []string{previous}
		}
		previous = step.ID
		return step
	}

	// 1. claim fees
	if position.HasUnclaimedFees() {
		claim := newStep(types.StepClaimFees, position.PoolID, false, types.StepParams{
			PositionID: position.ID,
			Amounts:    position.AccruedFees,
		})
		claim.Rollback = &types.RollbackAction{
			Reversible: false,
			Note:       "claimed fees are paid to the owner's wallet and cannot be returned to the position",
		}
		steps = append(steps, claim)
	}

	// 2. remove liquidity; its compensation re-deposits exactly what the position held before removal
	withdrawn := position.Underlying()
	remove := newStep(types.StepRemoveLiquidity, position.PoolID, true, types.StepParams{
		PositionID:        position.ID,
		Liquidity:         position.Liquidity,
		Amounts:           withdrawn,
		SlippageTolerance: prefs.MaxSlippage,
	})
	remove.Rollback = &types.RollbackAction{
		Reversible: true,
		Type:       types.StepAddLiquidity,
		PoolID:     position.PoolID,
		Params: types.StepParams{
			PositionID:        position.ID,
			Liquidity:         position.Liquidity,
			Amounts:           withdrawn,
			SlippageTolerance: prefs.MaxSlippage,
		},
		Note: fmt.Sprintf("re-deposit %s into pool %d", withdrawn.String(), position.PoolID),
	}
	steps = append(steps, remove)

	// 3. bridge swaps
	holdings := coinsToMap(withdrawn)
	for i, hop := range route.Swaps {
		held, ok := holdings[hop.From.Denom]
		if !ok || held.IsNil() || !held.IsPositive() {
			return nil, errors.Join(ErrValidation, ErrMathematicalError,
				fmt.Errorf("swap %d spends %s which is not held at that point", i, hop.From.Denom))
		}
		in := sdktypes.Coin{Denom: hop.From.Denom, Amount: held}
		out, err := estimateSwapOut(in.Amount, hop)
		if err != nil {
			return nil, err
		}

		minOut := sdkmath.LegacyNewDecFromInt(out).Mul(sdkmath.LegacyOneDec().Sub(sdkmath.LegacyMustNewDecFromStr(fmt.Sprintf("%.6f", prefs.MaxSlippage)))).TruncateInt()
		swap := newStep(types.StepSwapTokens, hop.ViaPool, true, types.StepParams{
			PositionID:        position.ID,
			TokenIn:           in,
			TokenOutDenom:     hop.To.Denom,
			ExpectedOut:       sdktypes.Coin{Denom: hop.To.Denom, Amount: out},
			MinAmountOut:      minOut,
			SlippageTolerance: prefs.MaxSlippage,
		})
		swap.Rollback = &types.RollbackAction{
			Reversible: false,
			Note:       fmt.Sprintf("swap of %s into %s via pool %d executes at market and cannot be undone", in.String(), hop.To.Denom, hop.ViaPool),
		}
		steps = append(steps, swap)

		delete(holdings, hop.From.Denom)
		if current, ok := holdings[hop.To.Denom]; ok {
			holdings[hop.To.Denom] = current.Add(out)
		} else {
			holdings[hop.To.Denom] = out
		}
	}

	// spread the route's non-gas cost over the steps that incur it
	extraCost := route.EstimatedCostUSD - float64(len(steps)+2)*p.params.GasCostPerOperationUSD
	if extraCost > 0 {
		if len(route.Swaps) > 0 {
			share := extraCost / float64(len(route.Swaps))
			for i := range steps {
				if steps[i].Type == types.StepSwapTokens {
					steps[i].EstimatedCostUSD += share
				}
			}
			extraCost = 0
		}
	} else {
		extraCost = 0
	}

	// 4. add liquidity; its compensation withdraws the shares the deposit mints
	deposit := mapToCoins(holdings)
	add := newStep(types.StepAddLiquidity, route.TargetPoolID, true, types.StepParams{
		PositionID:        position.ID,
		Amounts:           deposit,
		SlippageTolerance: prefs.MaxSlippage,
	})
	add.EstimatedCostUSD += extraCost
	add.Rollback = &types.RollbackAction{
		Reversible: true,
		Type:       types.StepRemoveLiquidity,
		PoolID:     route.TargetPoolID,
		Params: types.StepParams{
			PositionID:        position.ID,
			Amounts:           deposit,
			SlippageTolerance: prefs.MaxSlippage,
		},
		Note: fmt.Sprintf("withdraw the shares minted for %s from pool %d", deposit.String(), route.TargetPoolID),
	}
	steps = append(steps, add)

	// 5. verify
	verify := newStep(types.StepVerifyPosition, route.TargetPoolID, false, types.StepParams{
		PositionID: position.ID,
		Amounts:    deposit,
	})
	steps = append(steps, verify)

	return steps, nil
}

func (p *Planner) buildRollbackPlan(position types.Position, route types.Route, steps []types.Step) *types.RollbackPlan {
	rollback := &types.RollbackPlan{
		TriggerConditions: []string{
			"a critical step fails",
			"a step's dependencies do not complete within " + p.params.DependencyTimeout.String(),
		},
		EmergencyContacts: append([]string(nil), p.params.EmergencyContacts...),
	}
	for _, kind := range p.params.CriticalFailureKinds {
		rollback.TriggerConditions = append(rollback.TriggerConditions, "any step fails with "+string(kind))
	}

	for _, step := range steps {
		if step.Rollback == nil {
			continue
		}
		if !step.Rollback.Reversible {
			rollback.RecoveryInstructions = append(rollback.RecoveryInstructions,
				fmt.Sprintf("step %d (%s) is not reversible: %s", step.Order, step.Type, step.Rollback.Note))
			continue
		}
		rollback.Steps = append(rollback.Steps, types.Step{
			ID:                "rollback-" + step.ID,
			Order:             step.Order,
			Type:              step.Rollback.Type,
			PoolID:            step.Rollback.PoolID,
			Critical:          true,
			EstimatedCostUSD:  p.params.GasCostPerOperationUSD,
			EstimatedDuration: p.params.OperationDuration,
			Params:            step.Rollback.Params,
		})
	}

	rollback.RecoveryInstructions = append(rollback.RecoveryInstructions,
		fmt.Sprintf("if an automatic compensation fails, check the owner's balance and any remaining shares in pool %d, then re-deposit into pool %d manually", route.TargetPoolID, position.PoolID))
	return rollback
}

// AssessRisk escalates to high when any factor is out of bounds and to medium when any is borderline.
func AssessRisk(route types.Route, costUSD float64, prefs types.Preferences) types.RiskLevel {
	hops := len(route.Swaps)
	overBudget := prefs.MaxCostUSD > 0 && costUSD > prefs.MaxCostUSD
	if route.Confidence < highRiskConfidence ||
		route.EstimatedSlippage > 2*prefs.MaxSlippage ||
		hops >= highRiskHops ||
		overBudget {
		return types.RiskHigh
	}

	nearBudget := prefs.MaxCostUSD > 0 && costUSD > budgetWarningShare*prefs.MaxCostUSD
	if route.Confidence < mediumRiskConfidence ||
		route.EstimatedSlippage > prefs.MaxSlippage ||
		hops >= 1 ||
		nearBudget {
		return types.RiskMedium
	}
	return types.RiskLow
}

// SuccessProbability decreases with risk and increases with confidence. Safety-first
// callers accept slower plans, so their estimate is discounted least.
func SuccessProbability(risk types.RiskLevel, confidence float64, priority types.Priority) float64 {
	base := 0.55
	switch risk {
	case types.RiskLow:
		base = 0.95
	case types.RiskMedium:
		base = 0.8
	}

	discount := 0.97
	switch priority {
	case types.PrioritySafety:
		discount = 1.0
	case types.PrioritySpeed:
		discount = 0.92
	}

	return utils.ClampUnit(base * (0.5 + 0.5*utils.ClampUnit(confidence)) * discount)
}

// ValidatePlan checks the structure the execution engine relies on: unique ids,
// known dependencies at an earlier or equal order, and no cycles.
func ValidatePlan(plan *types.MigrationPlan) error {
	if plan == nil {
		return errors.Join(ErrValidation, ErrInvalidPlan, errors.New("plan is nil"))
	}
	if plan.ID == "" {
		return errors.Join(ErrValidation, ErrInvalidPlan, errors.New("plan has no ID"))
	}

	byID := make(map[string]*types.Step, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.ID == "" {
			return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("step at index %d has no ID", i))
		}
		if _, dup := byID[step.ID]; dup {
			return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("duplicate step ID %s", step.ID))
		}
		if err := validateStepType(step.Type); err != nil {
			return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("step %s: %w", step.ID, err))
		}
		if step.PoolID == 0 {
			return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("step %s has no pool", step.ID))
		}
		byID[step.ID] = step
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		for _, dep := range step.DependsOn {
			target, ok := byID[dep]
			if !ok {
				return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("step %s depends on unknown step %s", step.ID, dep))
			}
			if dep == step.ID {
				return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("step %s depends on itself", step.ID))
			}
			if target.Order > step.Order {
				return errors.Join(ErrValidation, ErrInvalidPlan,
					fmt.Errorf("step %s (order %d) depends on later step %s (order %d)", step.ID, step.Order, dep, target.Order))
			}
		}
	}

	// equal orders are allowed, so a cycle can still hide among them
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(byID))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return errors.Join(ErrValidation, ErrInvalidPlan, fmt.Errorf("dependency cycle through step %s", id))
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// validateInputs performs comprehensive validation of all plan inputs and defaults the priority
func validateInputs(position types.Position, route *types.Route, prefs *types.Preferences) error {
	if route == nil {
		return errors.Join(ErrValidation, ErrMissingRoute)
	}
	if route.SourcePoolID != position.PoolID {
		return errors.Join(ErrValidation, ErrRouteMismatch,
			fmt.Errorf("route source %d, position pool %d", route.SourcePoolID, position.PoolID))
	}
	if route.TargetPoolID == 0 || route.TargetPoolID == route.SourcePoolID {
		return errors.Join(ErrValidation, ErrSelfRoute, fmt.Errorf("target pool %d", route.TargetPoolID))
	}
	for name, v := range map[string]float64{
		"confidence": route.Confidence,
		"slippage":   route.EstimatedSlippage,
		"cost":       route.EstimatedCostUSD,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errors.Join(ErrValidation, ErrMathematicalError, fmt.Errorf("route %s is not a finite non-negative value: %f", name, v))
		}
	}
	if route.Confidence > 1 {
		return errors.Join(ErrValidation, ErrMathematicalError, fmt.Errorf("route confidence exceeds 1: %f", route.Confidence))
	}
	for i, hop := range route.Swaps {
		if hop.ViaPool == 0 || hop.From.Denom == "" || hop.To.Denom == "" {
			return errors.Join(ErrValidation, fmt.Errorf("route swap %d is incomplete", i))
		}
	}
	if route.RequiresBridge != (len(route.Swaps) > 0) {
		return errors.Join(ErrValidation, ErrBridgeMismatch,
			fmt.Errorf("route %s requires bridge=%t with %d swaps", route.ID, route.RequiresBridge, len(route.Swaps)))
	}

	if position.ID == "" {
		return errors.Join(ErrValidation, ErrInvalidPosition, errors.New("position has no ID"))
	}
	if !position.Active {
		return errors.Join(ErrValidation, ErrInvalidPosition, fmt.Errorf("position %s is not active", position.ID))
	}
	if position.Liquidity.IsNil() || !position.Liquidity.IsPositive() {
		return errors.Join(ErrValidation, ErrInvalidPosition, fmt.Errorf("position %s holds no liquidity", position.ID))
	}
	for side, amount := range map[string]sdkmath.Int{"A": position.AmountA, "B": position.AmountB} {
		if amount.IsNil() || amount.IsNegative() {
			return errors.Join(ErrValidation, ErrInvalidPosition, fmt.Errorf("position %s has an invalid token %s amount", position.ID, side))
		}
	}
	if position.Underlying().Empty() {
		return errors.Join(ErrValidation, ErrInvalidPosition, fmt.Errorf("position %s has nothing to withdraw", position.ID))
	}
	if !position.AccruedFees.IsValid() && !position.AccruedFees.Empty() {
		return errors.Join(ErrValidation, ErrInvalidPosition, fmt.Errorf("position %s has invalid accrued fees", position.ID))
	}

	if math.IsNaN(prefs.MaxSlippage) || prefs.MaxSlippage <= 0 || prefs.MaxSlippage >= 1 {
		return errors.Join(ErrValidation, ErrInvalidPreferences, fmt.Errorf("max slippage must be in (0, 1): %f", prefs.MaxSlippage))
	}
	if math.IsNaN(prefs.MaxCostUSD) || math.IsInf(prefs.MaxCostUSD, 0) || prefs.MaxCostUSD < 0 {
		return errors.Join(ErrValidation, ErrInvalidPreferences, fmt.Errorf("max cost must be finite and non-negative: %f", prefs.MaxCostUSD))
	}
	switch prefs.Priority {
	case "":
		prefs.Priority = types.PriorityBalanced
	case types.PrioritySpeed, types.PriorityBalanced, types.PrioritySafety:
	default:
		return errors.Join(ErrValidation, ErrInvalidPreferences, fmt.Errorf("unknown priority %q", prefs.Priority))
	}
	return nil
}

func validateStepType(t types.StepType) error {
	switch t {
	case types.StepClaimFees, types.StepRemoveLiquidity, types.StepSwapTokens,
		types.StepAddLiquidity, types.StepVerifyPosition, types.StepClosePosition:
		return nil
	}
	return fmt.Errorf("unknown step type %q", t)
}

// estimateSwapOut prices the input side and converts it into the output token at the hop's slippage.
func estimateSwapOut(amountIn sdkmath.Int, hop types.SwapHop) (sdkmath.Int, error) {
	if hop.To.PriceUSD <= 0 {
		return sdkmath.Int{}, errors.Join(ErrValidation, ErrMathematicalError, fmt.Errorf("swap output %s has no price", hop.To.Denom))
	}
	valueIn, err := utils.TokenValueUSD(amountIn, hop.From)
	if err != nil {
		return sdkmath.Int{}, errors.Join(ErrValidation, ErrMathematicalError, err)
	}
	unitsOut := valueIn * (1 - hop.EstimatedSlippage) / hop.To.PriceUSD
	out, err := utils.Float64ToSDKInt(unitsOut, hop.To.Decimals)
	if err != nil {
		return sdkmath.Int{}, errors.Join(ErrValidation, ErrMathematicalError, err)
	}
	return out, nil
}

func coinsToMap(coins sdktypes.Coins) map[string]sdkmath.Int {
	m := make(map[string]sdkmath.Int, len(coins))
	for _, c := range coins {
		m[c.Denom] = c.Amount
	}
	return m
}

func mapToCoins(m map[string]sdkmath.Int) sdktypes.Coins {
	coins := make([]sdktypes.Coin, 0, len(m))
	for denom, amount := range m {
		if amount.IsNil() || !amount.IsPositive() {
			continue
		}
		coins = append(coins, sdktypes.Coin{Denom: denom, Amount: amount})
	}
	return sdktypes.Coins(coins).Sort()
}
