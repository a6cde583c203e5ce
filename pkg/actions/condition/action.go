// Package condition evaluates a boolean expression and routes the run along
// the matching true/false branch.
package condition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const Type = models.ActionTypeCondition

var ErrNotBoolean = errors.New("condition did not evaluate to a boolean")

type Config struct {
	Expression string `json:"expression" validate:"required"`
}

// DefaultCacheSize bounds the compiled programs kept by a factory. Rendered
// expressions differ per run, so the cache cannot grow with them.
const DefaultCacheSize = 256

// ActionFactory compiles expressions once and reuses the programs. When the
// cache is full it is emptied and refilled.
type ActionFactory struct {
	mu        sync.RWMutex
	programs  map[string]*vm.Program
	cacheSize int
}

func NewActionFactory() *ActionFactory {
	return NewActionFactoryWithCache(DefaultCacheSize)
}

func NewActionFactoryWithCache(size int) *ActionFactory {
	if size < 1 {
		size = 1
	}

	return &ActionFactory{programs: make(map[string]*vm.Program, size), cacheSize: size}
}

// CachedPrograms reports how many compiled programs are held.
func (f *ActionFactory) CachedPrograms() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.programs)
}

func (f *ActionFactory) ID() string   { return Type }
func (f *ActionFactory) Name() string { return "Condition" }

func (f *ActionFactory) Description() string {
	return "Evaluates an expression against the execution context and follows the true or false branch."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"expression": models.StringProperty(`Boolean expression, e.g. formData.age >= 18 && step1.status == "ok"`),
	}, "expression")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return err
	}

	if template.HasPlaceholder(cfg.Expression) {
		return nil
	}

	_, err := f.compile(cfg.Expression)

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return nil, err
	}

	program, err := f.compile(cfg.Expression)
	if err != nil {
		return nil, err
	}

	return &Action{expression: cfg.Expression, program: program}, nil
}

func (f *ActionFactory) compile(expression string) (*vm.Program, error) {
	f.mu.RLock()
	program, ok := f.programs[expression]
	f.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}

	f.mu.Lock()
	if len(f.programs) >= f.cacheSize {
		clear(f.programs)
	}

	f.programs[expression] = program
	f.mu.Unlock()

	return program, nil
}

type Action struct {
	expression string
	program    *vm.Program
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	env := input.Context
	if env == nil {
		env = map[string]any{}
	}

	out, err := expr.Run(a.program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", a.expression, err)
	}

	var result bool

	switch v := out.(type) {
	case bool:
		result = v
	case nil:
		result = false
	default:
		return nil, fmt.Errorf("%w: %q returned %T", ErrNotBoolean, a.expression, out)
	}

	input.Logger.DebugContext(ctx, "Condition evaluated", "step_id", input.StepID, "result", result)

	return &protocol.Result{
		Output: map[string]any{"result": result},
		Branch: models.BranchOf(result),
	}, nil
}
