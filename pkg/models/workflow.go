// Package models defines the domain types shared by the workflow engine.
package models

import "time"

type StepKind string

const (
	StepKindTrigger StepKind = "trigger"
	StepKindAction  StepKind = "action"
)

// Branch tags an edge leaving a condition step. The empty branch is an
// unconditional edge.
type Branch string

const (
	BranchNone  Branch = ""
	BranchTrue  Branch = "true"
	BranchFalse Branch = "false"
)

// BranchOf converts a condition result into the branch tag it activates.
func BranchOf(result bool) Branch {
	if result {
		return BranchTrue
	}

	return BranchFalse
}

// Workflow is a named, versioned automation definition.
type Workflow struct {
	ID          string              `json:"id"                yaml:"id"`
	Name        string              `json:"name"              yaml:"name"              validate:"required,min=3"`
	Description string              `json:"description"       yaml:"description"`
	IsActive    bool                `json:"is_active"         yaml:"is_active"`
	Version     int                 `json:"version"           yaml:"version"`
	Steps       []*Step             `json:"steps"             yaml:"steps"`
	Connections []*Connection       `json:"connections"       yaml:"connections"`
	Triggers    []*Trigger          `json:"triggers"          yaml:"triggers"`
	Layout      map[string]Position `json:"layout,omitempty"  yaml:"layout,omitempty"`
	CreatedAt   time.Time           `json:"created_at"        yaml:"-"`
	UpdatedAt   time.Time           `json:"updated_at"        yaml:"-"`
}

// Step is a node of the workflow graph. Canvas coordinates live in
// Workflow.Layout, never here.
type Step struct {
	ID         string         `json:"id"          yaml:"id"          validate:"required"`
	Kind       StepKind       `json:"kind"        yaml:"kind"        validate:"required,oneof=trigger action"`
	ActionType string         `json:"action_type" yaml:"action_type"`
	Name       string         `json:"name"        yaml:"name"`
	Config     map[string]any `json:"config"      yaml:"config"`
}

type Connection struct {
	ID     string `json:"id"               yaml:"id"`
	From   string `json:"from"             yaml:"from"             validate:"required"`
	To     string `json:"to"               yaml:"to"               validate:"required"`
	Branch Branch `json:"branch,omitempty" yaml:"branch,omitempty" validate:"omitempty,oneof=true false"`
}

type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (w *Workflow) StepByID(id string) *Step {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// TriggerForStep returns the trigger record bound to a trigger step.
func (w *Workflow) TriggerForStep(stepID string) *Trigger {
	for _, trigger := range w.Triggers {
		if trigger.StepID == stepID {
			return trigger
		}
	}

	return nil
}

// Clone returns a deep copy, used as the immutable snapshot a run executes against.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := *w

	clone.Steps = make([]*Step, 0, len(w.Steps))
	for _, step := range w.Steps {
		s := *step
		s.Config = CloneMap(step.Config)
		clone.Steps = append(clone.Steps, &s)
	}

	clone.Connections = make([]*Connection, 0, len(w.Connections))
	for _, conn := range w.Connections {
		c := *conn
		clone.Connections = append(clone.Connections, &c)
	}

	clone.Triggers = make([]*Trigger, 0, len(w.Triggers))
	for _, trigger := range w.Triggers {
		t := *trigger
		t.Operations = append([]Operation(nil), trigger.Operations...)
		clone.Triggers = append(clone.Triggers, &t)
	}

	if w.Layout != nil {
		clone.Layout = make(map[string]Position, len(w.Layout))
		for id, pos := range w.Layout {
			clone.Layout[id] = pos
		}
	}

	return &clone
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = CloneValue(v)
	}

	return dst
}

func CloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return CloneMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = CloneValue(item)
		}

		return out
	default:
		return value
	}
}

// ActionTypeCondition is the only action type whose outgoing edges may carry a branch tag.
const ActionTypeCondition = "condition"
