/*

This file contains the migration plan built from a chosen route, and the rollback plan attached to it.

*/

package types

import "time"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Priority trades execution speed against safety margins.
type Priority string

const (
	PrioritySpeed    Priority = "speed"
	PriorityBalanced Priority = "balanced"
	PrioritySafety   Priority = "safety"
)

// Preferences are the caller's risk preferences for one migration.
type Preferences struct {
	MaxSlippage   float64  `json:"max_slippage"` // Fraction, e.g. 0.01 for 1%
	MaxCostUSD    float64  `json:"max_cost_usd"`
	Priority      Priority `json:"priority"`
	BuildRollback bool     `json:"build_rollback"`
}

// RollbackPlan is only present when the caller asked for one at plan-build time.
type RollbackPlan struct {
	TriggerConditions    []string `json:"trigger_conditions"`
	Steps                []Step   `json:"steps"` // Compensating steps, in execution order of the originals
	RecoveryInstructions []string `json:"recovery_instructions"`
	EmergencyContacts    []string `json:"emergency_contacts,omitempty"`
}

// MigrationPlan is built once and handed to the execution engine. The engine
// writes Step.Result but never changes the plan's structure.
type MigrationPlan struct {
	ID                 string        `json:"id"`
	PositionID         string        `json:"position_id"`
	Route              Route         `json:"route"`
	Steps              []Step        `json:"steps"`
	EstimatedCostUSD   float64       `json:"estimated_cost_usd"`
	EstimatedDuration  time.Duration `json:"estimated_duration"`
	Rollback           *RollbackPlan `json:"rollback,omitempty"`
	Risk               RiskLevel     `json:"risk"`
	SuccessProbability float64       `json:"success_probability"` // 0.0 to 1.0
	NonReversibleSteps []string      `json:"non_reversible_steps,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// StepByID returns the step with the given id.
func (p *MigrationPlan) StepByID(id string) (*Step, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}
