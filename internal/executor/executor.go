// Package executor defines the contract for device and service
// integrations and the registry that routes actions to them.
package executor

import (
	"context"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

// SideEffect is one consequence of running an action.
type SideEffect struct {
	Description string `json:"description"`
	Reversible  bool   `json:"reversible"`
}

// Result is the outcome of an execution. Failures are recoverable unless
// the executor sets Unrecoverable.
type Result struct {
	Success       bool         `json:"success"`
	Output        value.Value  `json:"output"`
	SideEffects   []SideEffect `json:"side_effects,omitempty"`
	Error         string       `json:"error,omitempty"`
	Unrecoverable bool         `json:"unrecoverable,omitempty"`
}

// Prediction is an executor's dry-run of an action.
type Prediction struct {
	WouldSucceed         bool         `json:"would_succeed"`
	PredictedOutput      value.Value  `json:"predicted_output"`
	PredictedSideEffects []SideEffect `json:"predicted_side_effects,omitempty"`
	Warnings             []string     `json:"warnings,omitempty"`
}

// Executor runs one or more actions.
type Executor interface {
	// Capabilities lists the actions this executor handles.
	Capabilities() []domain.Capability
	Execute(ctx context.Context, action string, params value.Object) (Result, error)
	Simulate(ctx context.Context, action string, params value.Object) (Prediction, error)
}
