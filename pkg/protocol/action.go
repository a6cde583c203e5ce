// Package protocol defines the contracts between the engine and the actions
// it dispatches.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/models"
)

// Input is what an action receives for one step execution. Config has
// already been interpolated against Context.
type Input struct {
	RunID      string
	WorkflowID string
	StepID     string
	Config     map[string]any
	Context    map[string]any
	Now        time.Time
	Logger     *slog.Logger
}

// Suspension asks the engine to park the step until a signal or DueAt.
type Suspension struct {
	Reason models.WaitReason
	DueAt  time.Time
	Detail map[string]any
}

// Result is the outcome of a successful action. Output is merged into the
// execution context under the step id. Branch is set by condition steps.
type Result struct {
	Output   any
	Branch   models.Branch
	Suspend  *Suspension
	Attempts int
}

type Action interface {
	Execute(ctx context.Context, input Input) (*Result, error)
}

// ActionFactory describes an action type and builds configured instances.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string
	Schema() *models.JSONSchema
	Create(config map[string]any) (Action, error)
}

// ConfigValidator is implemented by factories that check a raw, not yet
// interpolated config when a workflow is activated.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// External marks factories whose actions call remote systems. The
// dispatcher retries them with backoff.
type External interface {
	External() bool
}

// Integration is a module contributing a namespaced set of actions. Each
// action is registered as "{ID}_{action ID}".
type Integration interface {
	ID() string
	Name() string
	Actions() []ActionFactory
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, input Input) (*Result, error)

func (f ActionFunc) Execute(ctx context.Context, input Input) (*Result, error) {
	return f(ctx, input)
}
