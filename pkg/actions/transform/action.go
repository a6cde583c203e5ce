// Package transform reshapes data from the execution context with a jq query
// or a field mapping.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
	"github.com/itchyny/gojq"
)

const Type = "transform-data"

var ErrNoTransform = errors.New("transform-data requires expression or mapping")

type Config struct {
	Expression string         `json:"expression"`
	Mapping map[string]any `json:"mapping"`
}

// ActionFactory caches compiled jq programs across runs.
type ActionFactory struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{cache: make(map[string]*gojq.Code)}
}

func (f *ActionFactory) ID() string   { return Type }
func (f *ActionFactory) Name() string { return "Transform Data" }

func (f *ActionFactory) Description() string {
	return "Builds a new value from the execution context using a jq query or a mapping of {{path}} placeholders."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"expression": models.StringProperty(`jq query evaluated against the context, e.g. {name: .formData.name, total: (.step2.items | length)}`),
		"mapping": models.ObjectProperty("Object whose values are literals or {{path}} placeholders"),
	})
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	cfg, err := decode(config)
	if err != nil {
		return err
	}

	if cfg.Expression == "" || template.HasPlaceholder(cfg.Expression) {
		return nil
	}

	_, err = f.compile(cfg.Expression)

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	cfg, err := decode(config)
	if err != nil {
		return nil, err
	}

	action := &Action{mapping: cfg.Mapping, query: cfg.Expression}

	if cfg.Expression != "" {
		action.code, err = f.compile(cfg.Expression)
		if err != nil {
			return nil, err
		}
	}

	return action, nil
}

func decode(config map[string]any) (Config, error) {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return cfg, err
	}

	if cfg.Expression == "" && cfg.Mapping == nil {
		return cfg, ErrNoTransform
	}

	return cfg, nil
}

func (f *ActionFactory) compile(query string) (*gojq.Code, error) {
	f.mu.RLock()
	code, ok := f.cache[query]
	f.mu.RUnlock()

	if ok {
		return code, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if code, ok := f.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", query, err)
	}

	// no access to the process environment
	code, err = gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", query, err)
	}

	f.cache[query] = code

	return code, nil
}

type Action struct {
	query   string
	code    *gojq.Code
	mapping map[string]any
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	if a.code == nil {
		input.Logger.DebugContext(ctx, "Mapping applied", "step_id", input.StepID, "fields", len(a.mapping))

		return &protocol.Result{Output: models.CloneMap(a.mapping)}, nil
	}

	data, err := actions.Normalize(input.Context)
	if err != nil {
		return nil, fmt.Errorf("context is not JSON serializable: %w", err)
	}

	if data == nil {
		data = map[string]any{}
	}

	iter := a.code.RunWithContext(ctx, data)

	results := make([]any, 0, 1)

	for {
		v, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed for %q: %w", a.query, err)
		}

		results = append(results, v)
	}

	var output any

	switch len(results) {
	case 0:
		output = nil
	case 1:
		output = results[0]
	default:
		output = results
	}

	return &protocol.Result{Output: output}, nil
}
