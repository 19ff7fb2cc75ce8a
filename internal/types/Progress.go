/*

This file contains the execution progress of a migration plan and the events streamed to callers while it runs.

*/

package types

import "time"

type MigrationStatus string

const (
	StatusPending        MigrationStatus = "pending"
	StatusInProgress     MigrationStatus = "in_progress"
	StatusCompleted      MigrationStatus = "completed"
	StatusPartialSuccess MigrationStatus = "partial_success"
	StatusFailed         MigrationStatus = "failed"
	StatusRollingBack    MigrationStatus = "rolling_back"
	StatusRolledBack     MigrationStatus = "rolled_back"
	StatusCancelled      MigrationStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s MigrationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartialSuccess, StatusFailed, StatusRolledBack, StatusCancelled:
		return true
	}
	return false
}

// ErrorKind classifies entries in the progress error list.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindCriticalStep      ErrorKind = "critical_step_failure"
	ErrorKindNonCriticalStep   ErrorKind = "non_critical_step_failure"
	ErrorKindDependencyTimeout ErrorKind = "dependency_timeout"
	ErrorKindRollback          ErrorKind = "rollback_failure"
	ErrorKindCancelled         ErrorKind = "cancelled"
)

// ExecutionError is one audit entry in a progress record.
type ExecutionError struct {
	StepID    string      `json:"step_id"`
	Kind      ErrorKind   `json:"kind"`
	Failure   FailureKind `json:"failure,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// Progress is owned by the execution engine while a plan runs and is never
// mutated again once its status is terminal.
type Progress struct {
	PlanID             string           `json:"plan_id"`
	Owner              string           `json:"owner"`
	Status             MigrationStatus  `json:"status"`
	CurrentStep        int              `json:"current_step"`
	TotalSteps         int              `json:"total_steps"`
	ExecutedSteps      []string         `json:"executed_steps"`
	FailedSteps        []string         `json:"failed_steps"`
	RolledBackSteps    []string         `json:"rolled_back_steps"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at,omitempty"`
	Errors             []ExecutionError `json:"errors"`
	Resources          ResourceUsage    `json:"resources"`
	RecoveryActions    []string         `json:"recovery_actions"`
	ManualIntervention bool             `json:"manual_intervention"`
}

// Duration is the wall time between start and finish, or until now while running.
func (p *Progress) Duration() time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	end := p.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	if d := end.Sub(p.StartedAt); d > 0 {
		return d
	}
	return 0
}

// EventType names the discrete progress records streamed during execution.
type EventType string

const (
	EventPlanStarted        EventType = "plan_started"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventRollbackStarted    EventType = "rollback_started"
	EventStepRolledBack     EventType = "step_rolled_back"
	EventRollbackStepFailed EventType = "rollback_step_failed"
	EventManualIntervention EventType = "manual_intervention"
	EventPlanFinished       EventType = "plan_finished"
)

// ProgressEvent is one record on the caller's progress channel.
type ProgressEvent struct {
	PlanID    string          `json:"plan_id"`
	Type      EventType       `json:"type"`
	StepID    string          `json:"step_id,omitempty"`
	StepType  StepType        `json:"step_type,omitempty"`
	Order     int             `json:"order"`
	Status    MigrationStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
