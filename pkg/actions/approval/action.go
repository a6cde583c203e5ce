// Package approval suspends a run until a person approves or rejects the
// step, or until the optional timeout passes.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
)

const Type = "approval-request"

type Config struct {
	Approver string `json:"approver" validate:"required"`
	Message  string `json:"message"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Timeout  string `json:"timeout"`
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string   { return Type }
func (f *ActionFactory) Name() string { return "Approval Request" }

func (f *ActionFactory) Description() string {
	return "Pauses the branch until the approver approves or rejects it. An elapsed timeout counts as a rejection."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"approver": models.StringProperty("User or address that must decide"),
		"message":  models.StringProperty("Text shown to the approver"),
		"priority": {Type: "string", Enum: []any{"low", "normal", "high", "urgent"}, Default: "normal"},
		"timeout":  models.StringProperty("Optional duration after which the request is rejected, e.g. 48h"),
	}, "approver")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return err
	}

	if template.HasPlaceholder(cfg.Timeout) {
		return nil
	}

	_, err := cfg.timeout()

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return nil, err
	}

	timeout, err := cfg.timeout()
	if err != nil {
		return nil, err
	}

	return &Action{config: cfg, timeout: timeout}, nil
}

func (c Config) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %q", c.Timeout)
	}

	return d, nil
}

type Action struct {
	config  Config
	timeout time.Duration
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	priority := a.config.Priority
	if priority == "" {
		priority = "normal"
	}

	detail := map[string]any{
		"approver":     a.config.Approver,
		"message":      a.config.Message,
		"priority":     priority,
		"requested_at": now.Format(time.RFC3339),
	}

	var due time.Time
	if a.timeout > 0 {
		due = now.Add(a.timeout)
		detail["expires_at"] = due.Format(time.RFC3339)
	}

	input.Logger.InfoContext(ctx, "Approval requested",
		"step_id", input.StepID,
		"approver", a.config.Approver,
		"expires_at", due,
	)

	return &protocol.Result{
		Output: detail,
		Suspend: &protocol.Suspension{
			Reason: models.WaitReasonApproval,
			DueAt:  due,
			Detail: detail,
		},
	}, nil
}
