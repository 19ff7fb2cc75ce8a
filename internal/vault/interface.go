package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/elys-network/poolmigrator/internal/types"
)

// Dispatcher turns one plan step into a confirmed on-chain operation.
// Implementations block until the operation has a definite outcome; a step
// that was broadcast is never abandoned half way.
type Dispatcher interface {
	// Execute runs the operation of stepType against pool and returns its typed receipt.
	// Failures should be returned as *OperationError so the caller can classify them.
	Execute(ctx context.Context, stepType types.StepType, pool types.PoolID, params types.StepParams) (*types.Receipt, error)
}

// OperationError tags a dispatcher failure with its kind.
type OperationError struct {
	Kind     types.FailureKind
	StepType types.StepType
	Pool     types.PoolID
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on pool %d failed (%s): %v", e.StepType, e.Pool, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// NewOperationError wraps err with a failure kind.
func NewOperationError(kind types.FailureKind, stepType types.StepType, pool types.PoolID, err error) *OperationError {
	return &OperationError{Kind: kind, StepType: stepType, Pool: pool, Err: err}
}

// KindOf extracts the failure kind from err. Untagged errors are unknown, and a
// cancelled or expired context is transient.
func KindOf(err error) types.FailureKind {
	if err == nil {
		return ""
	}
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Kind != "" {
		return opErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.FailureTransient
	}
	return types.FailureUnknown
}
