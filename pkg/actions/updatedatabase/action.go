// Package updatedatabase creates, updates or deletes a row of a virtual
// table.
package updatedatabase

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/protocol"
)

const Type = "update-database"

var ErrRecordIDRequired = errors.New("record_id is required for update and delete")

type Config struct {
	Table     string           `json:"table"     validate:"required"`
	Operation models.Operation `json:"operation" validate:"omitempty,oneof=create update delete"`
	RecordID  string           `json:"record_id"`
	Fields    map[string]any   `json:"fields"`
}

type ActionFactory struct {
	records   persistence.RecordRepository
	publisher eventbus.EventPublisher
}

type Option func(*ActionFactory)

// WithPublisher announces every write as a database.changed event, so
// database_change triggers on the table fire for rows written by steps.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(f *ActionFactory) {
		f.publisher = publisher
	}
}

func NewActionFactory(records persistence.RecordRepository, opts ...Option) *ActionFactory {
	f := &ActionFactory{records: records, publisher: eventbus.NopPublisher{}}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *ActionFactory) ID() string   { return Type }
func (f *ActionFactory) Name() string { return "Update Database" }

func (f *ActionFactory) Description() string {
	return "Creates, updates or deletes a record of a table. Field values accept {{path}} placeholders."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"table":     models.StringOrNumberProperty("Target table id"),
		"operation": {Type: "string", Enum: []any{"create", "update", "delete"}, Default: "create"},
		"record_id": models.StringOrNumberProperty("Record to update or delete"),
		"fields":    models.ObjectProperty("Field values to write"),
	}, "table")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	_, err := decode(config)

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	cfg, err := decode(config)
	if err != nil {
		return nil, err
	}

	return &Action{records: f.records, publisher: f.publisher, config: cfg}, nil
}

// decode accepts numeric table and record ids.
func decode(config map[string]any) (Config, error) {
	normalized := models.CloneMap(config)

	for _, key := range []string{"table", "record_id"} {
		if v, ok := normalized[key]; ok && v != nil {
			if _, isString := v.(string); !isString {
				normalized[key] = fmt.Sprint(v)
			}
		}
	}

	var cfg Config
	if err := actions.Decode(normalized, &cfg); err != nil {
		return cfg, err
	}

	if cfg.Operation == "" {
		cfg.Operation = models.OperationCreate
	}

	if cfg.Operation != models.OperationCreate && cfg.RecordID == "" {
		return cfg, ErrRecordIDRequired
	}

	return cfg, nil
}

type Action struct {
	records   persistence.RecordRepository
	publisher eventbus.EventPublisher
	config    Config
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	var (
		record *models.Record
		err    error
	)

	switch a.config.Operation {
	case models.OperationCreate:
		record = &models.Record{ID: a.config.RecordID, TableID: a.config.Table, Fields: models.CloneMap(a.config.Fields)}
		err = a.records.Create(ctx, record)
	case models.OperationUpdate:
		record, err = a.records.Update(ctx, a.config.Table, a.config.RecordID, a.config.Fields)
	case models.OperationDelete:
		err = a.records.Delete(ctx, a.config.Table, a.config.RecordID)
		record = &models.Record{ID: a.config.RecordID, TableID: a.config.Table}
	}

	if err != nil {
		return nil, err
	}

	input.Logger.InfoContext(ctx, "Record written",
		"step_id", input.StepID,
		"table", a.config.Table,
		"operation", a.config.Operation,
		"record_id", record.ID,
	)

	output := map[string]any{
		"operation": string(a.config.Operation),
		"table":     record.TableID,
		"record_id": record.ID,
	}

	if record.Fields != nil {
		output["fields"] = record.Fields
	}

	a.announce(ctx, input, record)

	return &protocol.Result{Output: output}, nil
}

// announce publishes the write. The row is already stored, so a publish
// failure is logged and the step still succeeds.
func (a *Action) announce(ctx context.Context, input protocol.Input, record *models.Record) {
	event := events.DatabaseChanged{
		BaseEvent: events.NewBaseEvent(events.DatabaseChangedEvent, input.WorkflowID),
		TableID:   record.TableID,
		Operation: a.config.Operation,
		RecordID:  record.ID,
		Payload:   models.CloneMap(record.Fields),
	}

	if err := a.publisher.Publish(ctx, record.TableID, event); err != nil {
		input.Logger.WarnContext(ctx, "Failed to publish database change",
			"step_id", input.StepID,
			"table", record.TableID,
			"record_id", record.ID,
			"error", err,
		)
	}
}
