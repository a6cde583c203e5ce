package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/registry"
	"github.com/dukex/flowbase/pkg/services"
	"github.com/dukex/flowbase/pkg/trigger"
	"go.opentelemetry.io/otel/trace"
)

// DefaultIndexRefresh bounds how long a process may miss an activation
// whose bus event went to another member of its consumer group.
const DefaultIndexRefresh = 30 * time.Second

type RuntimeConfig struct {
	DatabaseURL  string
	EventBus     string
	KafkaBrokers string
	ServiceName  string
	IndexRefresh time.Duration
	Registry     RegistryConfig
	Tracer       trace.Tracer
}

// Runtime is the wired object graph shared by the API and the worker.
type Runtime struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Registry    *registry.Registry
	Validator   *graph.Validator
	Index       *trigger.Index
	Engine      *engine.Engine
	Workflows   *services.Workflow
	Executions  *services.Execution

	logger       *slog.Logger
	indexRefresh time.Duration
}

// NewRuntime connects storage and the bus, registers actions and loads the
// trigger index from the active workflows.
func NewRuntime(ctx context.Context, logger *slog.Logger, config RuntimeConfig) (*Runtime, error) {
	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(config.EventBus, config.KafkaBrokers, config.ServiceName, logger)
	if err != nil {
		return nil, errors.Join(err, store.Close(ctx))
	}

	reg, err := NewRegistry(ctx, logger, store.RecordRepository(), bus, config.Registry)
	if err != nil {
		return nil, errors.Join(err, bus.Close(), store.Close(ctx))
	}

	opts := []engine.Option{engine.WithPublisher(bus)}
	if config.Tracer != nil {
		opts = append(opts, engine.WithTracer(config.Tracer))
	}

	eng := engine.New(logger, reg, store.RunRepository(), store.TraceRepository(), opts...)

	index := trigger.NewIndex()
	validator := graph.NewValidator(reg)
	matcher := trigger.NewMatcher(logger, index, store.WorkflowRepository())
	workflows := services.NewWorkflow(logger, store, validator, index, services.WithPublisher(bus))

	active, err := workflows.RebuildIndex(ctx)
	if err != nil {
		return nil, errors.Join(err, bus.Close(), store.Close(ctx))
	}

	logger.InfoContext(ctx, "Runtime ready", "active_workflows", active, "triggers", index.Len())

	return &Runtime{
		Persistence:  store,
		EventBus:     bus,
		Registry:     reg,
		Validator:    validator,
		Index:        index,
		Engine:       eng,
		Workflows:    workflows,
		Executions:   services.NewExecution(logger, store, eng, matcher, validator),
		logger:       logger.With("module", "runtime"),
		indexRefresh: config.IndexRefresh,
	}, nil
}

// WatchWorkflows keeps the trigger index in step with activations made by
// other processes. It registers the workflow lifecycle handlers on the bus
// (the caller still calls Subscribe) and, when an interval is configured,
// reloads the index from the store until ctx is done.
func (r *Runtime) WatchWorkflows(ctx context.Context) error {
	for _, eventType := range []events.EventType{events.WorkflowActivatedEvent, events.WorkflowDeactivatedEvent} {
		if err := r.EventBus.Handle(eventType, r.Workflows.OnWorkflowChanged); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	if r.indexRefresh > 0 {
		go r.refreshIndex(ctx)
	}

	return nil
}

func (r *Runtime) refreshIndex(ctx context.Context) {
	ticker := time.NewTicker(r.indexRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, err := r.Workflows.RebuildIndex(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "Failed to refresh trigger index", "error", err)

				continue
			}

			r.logger.DebugContext(ctx, "Trigger index refreshed", "active_workflows", active, "triggers", r.Index.Len())
		}
	}
}

func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(r.EventBus.Close(), r.Persistence.Close(ctx))
}
