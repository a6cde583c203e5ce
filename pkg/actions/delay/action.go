// Package delay parks a run until a fixed duration has elapsed or a cron
// schedule next fires.
package delay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
	"github.com/robfig/cron/v3"
)

const Type = "delay"

var (
	ErrNoSchedule  = errors.New("delay requires either duration or frequency")
	ErrBothPresent = errors.New("delay accepts duration or frequency, not both")
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Duration  string `json:"duration"`
	Frequency string `json:"frequency"`
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string   { return Type }
func (f *ActionFactory) Name() string { return "Delay" }

func (f *ActionFactory) Description() string {
	return "Suspends the run for a duration (e.g. 30m, 2h) or until the next tick of a cron frequency."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"duration":  models.StringProperty("Go duration such as 90s, 15m or 24h"),
		"frequency": models.StringProperty("Cron expression or descriptor such as @daily or 0 9 * * MON"),
	})
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	cfg, err := decode(config)
	if err != nil {
		return err
	}

	if template.HasPlaceholder(cfg.Duration) || template.HasPlaceholder(cfg.Frequency) {
		return nil
	}

	_, err = cfg.dueAt(time.Now())

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	cfg, err := decode(config)
	if err != nil {
		return nil, err
	}

	return &Action{config: cfg}, nil
}

func decode(config map[string]any) (Config, error) {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return cfg, err
	}

	switch {
	case cfg.Duration == "" && cfg.Frequency == "":
		return cfg, ErrNoSchedule
	case cfg.Duration != "" && cfg.Frequency != "":
		return cfg, ErrBothPresent
	}

	return cfg, nil
}

func (c Config) dueAt(now time.Time) (time.Time, error) {
	if c.Duration != "" {
		d, err := time.ParseDuration(c.Duration)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q: %w", c.Duration, err)
		}

		if d <= 0 {
			return time.Time{}, fmt.Errorf("duration must be positive, got %q", c.Duration)
		}

		return now.Add(d), nil
	}

	schedule, err := parser.Parse(c.Frequency)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid frequency %q: %w", c.Frequency, err)
	}

	return schedule.Next(now), nil
}

type Action struct {
	config Config
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	due, err := a.config.dueAt(now)
	if err != nil {
		return nil, err
	}

	input.Logger.InfoContext(ctx, "Delaying step", "step_id", input.StepID, "due_at", due)

	return &protocol.Result{
		Output: map[string]any{"resume_at": due.Format(time.RFC3339)},
		Suspend: &protocol.Suspension{
			Reason: models.WaitReasonDelay,
			DueAt:  due,
		},
	}, nil
}
