// Package registry maps action types to their factories and dispatches step
// executions to them.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
)

// RetryPolicy bounds retries of external actions.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

type entry struct {
	factory     protocol.ActionFactory
	integration string
	external    bool
}

type Registry struct {
	logger    *slog.Logger
	retry     RetryPolicy
	mu        sync.RWMutex
	factories map[string]entry
}

type Option func(*Registry)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(r *Registry) {
		r.retry = policy
	}
}

func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:    logger.With("module", "registry"),
		retry:     DefaultRetryPolicy(),
		factories: make(map[string]entry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a built-in action factory under its ID.
func (r *Registry) Register(factory protocol.ActionFactory) error {
	return r.add(factory.ID(), factory, "")
}

// RegisterHandler registers a plain function as an action type.
func (r *Registry) RegisterHandler(actionType string, handler protocol.ActionFunc, schema *models.JSONSchema) error {
	return r.add(actionType, &handlerFactory{id: actionType, schema: schema, handler: handler}, "")
}

// RegisterExternalHandler is RegisterHandler for handlers that call remote
// systems and must be retried.
func (r *Registry) RegisterExternalHandler(actionType string, handler protocol.ActionFunc, schema *models.JSONSchema) error {
	return r.add(actionType, &handlerFactory{id: actionType, schema: schema, handler: handler, external: true}, "")
}

// RegisterIntegration registers every action of an integration module as
// "{integrationID}_{actionID}". Integration actions are retried unless their
// factory reports External() == false.
func (r *Registry) RegisterIntegration(integration protocol.Integration) error {
	for _, factory := range integration.Actions() {
		actionType := integration.ID() + "_" + factory.ID()

		if err := r.add(actionType, factory, integration.ID()); err != nil {
			return err
		}
	}

	r.logger.Info("Registered integration", "integration", integration.ID(), "actions", len(integration.Actions()))

	return nil
}

func (r *Registry) add(actionType string, factory protocol.ActionFactory, integration string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[actionType]; exists {
		return fmt.Errorf("%w: %s", ErrActionAlreadyRegistered, actionType)
	}

	external := integration != ""
	if ext, ok := factory.(protocol.External); ok {
		external = ext.External()
	}

	r.factories[actionType] = entry{factory: factory, integration: integration, external: external}

	return nil
}

func (r *Registry) lookup(actionType string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.factories[actionType]

	return e, ok
}

// Schema returns the declared input schema of an action type.
func (r *Registry) Schema(actionType string) (*models.JSONSchema, bool) {
	e, ok := r.lookup(actionType)
	if !ok {
		return nil, false
	}

	schema := e.factory.Schema()
	if schema == nil {
		schema = models.ObjectSchema(e.factory.Name(), e.factory.Description(), nil)
	}

	return schema, true
}

// ValidateConfig runs the action's typed config check, if it has one.
func (r *Registry) ValidateConfig(actionType string, config map[string]any) error {
	e, ok := r.lookup(actionType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotRegistered, actionType)
	}

	validator, ok := e.factory.(protocol.ConfigValidator)
	if !ok {
		return nil
	}

	return validator.ValidateConfig(config)
}

// Catalog lists every registered action sorted by type.
func (r *Registry) Catalog() []models.RegisteredAction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catalog := make([]models.RegisteredAction, 0, len(r.factories))
	for actionType, e := range r.factories {
		catalog = append(catalog, models.RegisteredAction{
			Type:        actionType,
			Name:        e.factory.Name(),
			Description: e.factory.Description(),
			Integration: e.integration,
			External:    e.external,
			Schema:      e.factory.Schema(),
		})
	}

	slices.SortFunc(catalog, func(a, b models.RegisteredAction) int {
		return strings.Compare(a.Type, b.Type)
	})

	return catalog
}

func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return "Registry has no actions registered", false
	}

	return fmt.Sprintf("Registry has %d actions", len(r.factories)), true
}

// Invoke checks required inputs, builds the action from the interpolated
// config and executes it. External actions are retried with exponential
// backoff and surface an *IntegrationError once attempts are exhausted.
func (r *Registry) Invoke(ctx context.Context, actionType string, input protocol.Input) (*protocol.Result, error) {
	e, ok := r.lookup(actionType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, actionType)
	}

	if input.Logger == nil {
		input.Logger = r.logger
	}

	if err := checkRequired(actionType, e.factory.Schema(), input.Config); err != nil {
		return nil, err
	}

	action, err := e.factory.Create(input.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid config for %s: %w", actionType, err)
	}

	if !e.external {
		result, err := action.Execute(ctx, input)
		if err != nil {
			return nil, err
		}

		return withAttempts(result, 1), nil
	}

	return r.invokeWithRetry(ctx, actionType, action, input)
}

func (r *Registry) invokeWithRetry(ctx context.Context, actionType string, action protocol.Action, input protocol.Input) (*protocol.Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = 0

	maxRetries := uint64(0)
	if r.retry.MaxAttempts > 1 {
		maxRetries = uint64(r.retry.MaxAttempts - 1)
	}

	var (
		attempts int
		result   *protocol.Result
	)

	operation := func() error {
		attempts++

		res, err := action.Execute(ctx, input)
		if err != nil {
			return err
		}

		result = res

		return nil
	}

	notify := func(err error, wait time.Duration) {
		input.Logger.WarnContext(ctx, "External action failed, retrying",
			"action_type", actionType,
			"step_id", input.StepID,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx), notify)
	if err != nil {
		return nil, &IntegrationError{ActionType: actionType, Attempts: attempts, Err: err}
	}

	return withAttempts(result, attempts), nil
}

func withAttempts(result *protocol.Result, attempts int) *protocol.Result {
	if result == nil {
		result = &protocol.Result{}
	}

	result.Attempts = attempts

	return result
}

func checkRequired(actionType string, schema *models.JSONSchema, config map[string]any) error {
	if schema == nil {
		return nil
	}

	missing := make([]string, 0)

	for _, field := range schema.Required {
		value, ok := config[field]
		if !ok || value == nil {
			missing = append(missing, field)

			continue
		}

		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return &MissingInputError{ActionType: actionType, Fields: missing}
	}

	return nil
}

type handlerFactory struct {
	id       string
	schema   *models.JSONSchema
	handler  protocol.ActionFunc
	external bool
}

func (f *handlerFactory) ID() string                 { return f.id }
func (f *handlerFactory) Name() string               { return f.id }
func (f *handlerFactory) Description() string        { return "" }
func (f *handlerFactory) Schema() *models.JSONSchema { return f.schema }
func (f *handlerFactory) External() bool             { return f.external }

func (f *handlerFactory) Create(map[string]any) (protocol.Action, error) {
	return f.handler, nil
}
