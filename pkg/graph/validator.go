package graph

import (
	"fmt"
	"strings"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ActionCatalog resolves the declared input schema of an action type and
// checks a config against the action's typed form.
type ActionCatalog interface {
	Schema(actionType string) (*models.JSONSchema, bool)
	ValidateConfig(actionType string, config map[string]any) error
}

// Validator checks workflows before activation. It has no side effects.
type Validator struct {
	catalog ActionCatalog
}

func NewValidator(catalog ActionCatalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate returns nil or a *ValidationError with every problem found.
func (v *Validator) Validate(workflow *models.Workflow) error {
	problems := make([]Problem, 0)
	add := func(p Problem) { problems = append(problems, p) }

	v.checkSteps(workflow, add)

	g := Build(workflow)

	v.checkConnections(workflow, g, add)

	for _, cycle := range g.FindCycles() {
		path := append(append([]string{}, cycle...), cycle[0])
		add(Problem{
			StepIDs: cycle,
			Code:    CodeCycle,
			Message: "cycle detected: " + strings.Join(path, " -> "),
		})
	}

	v.checkAncestry(g, add)
	v.checkTriggers(workflow, g, add)
	v.checkConfigs(g, add)

	if len(problems) == 0 {
		return nil
	}

	return &ValidationError{WorkflowID: workflow.ID, Problems: problems}
}

func (v *Validator) checkSteps(workflow *models.Workflow, add func(Problem)) {
	seen := make(map[string]bool, len(workflow.Steps))
	triggers := 0

	for i, step := range workflow.Steps {
		if step.ID == "" {
			add(Problem{Code: CodeEmptyStepID, Message: fmt.Sprintf("step at index %d has an empty id", i)})

			continue
		}

		if seen[step.ID] {
			add(Problem{StepID: step.ID, Code: CodeDuplicateStep, Message: "duplicate step id " + step.ID})
		}

		seen[step.ID] = true

		switch step.Kind {
		case models.StepKindTrigger:
			triggers++
		case models.StepKindAction:
		default:
			add(Problem{StepID: step.ID, Code: CodeInvalidKind, Message: fmt.Sprintf("step %s has unknown kind %q", step.ID, step.Kind)})
		}
	}

	if triggers == 0 {
		add(Problem{Code: CodeNoTrigger, Message: "workflow has no trigger step"})
	}
}

func (v *Validator) checkConnections(workflow *models.Workflow, g *Graph, add func(Problem)) {
	for _, conn := range workflow.Connections {
		from, to := g.Step(conn.From), g.Step(conn.To)

		if from == nil || to == nil {
			add(Problem{
				StepIDs: []string{conn.From, conn.To},
				Code:    CodeDanglingEdge,
				Message: fmt.Sprintf("connection %s -> %s references an unknown step", conn.From, conn.To),
			})

			continue
		}

		if conn.From == conn.To {
			add(Problem{StepID: conn.From, Code: CodeSelfLoop, Message: "step " + conn.From + " connects to itself"})
		}

		switch conn.Branch {
		case models.BranchNone:
		case models.BranchTrue, models.BranchFalse:
			if from.ActionType != models.ActionTypeCondition {
				add(Problem{
					StepID:  conn.From,
					Code:    CodeInvalidBranch,
					Message: fmt.Sprintf("connection %s -> %s is tagged %q but %s is not a condition step", conn.From, conn.To, conn.Branch, conn.From),
				})
			}
		default:
			add(Problem{
				StepID:  conn.From,
				Code:    CodeInvalidBranch,
				Message: fmt.Sprintf("connection %s -> %s has unknown branch %q", conn.From, conn.To, conn.Branch),
			})
		}

		if to.Kind == models.StepKindTrigger {
			add(Problem{StepID: to.ID, Code: CodeTriggerHasIncoming, Message: "trigger step " + to.ID + " has an incoming connection"})
		}
	}
}

func (v *Validator) checkAncestry(g *Graph, add func(Problem)) {
	owner := make(map[string]string)

	for _, triggerID := range g.TriggerSteps() {
		for id := range g.Reachable(triggerID) {
			if id == triggerID {
				continue
			}

			if other, ok := owner[id]; ok && other != triggerID {
				owner[id] = "*"

				continue
			}

			if owner[id] != "*" {
				owner[id] = triggerID
			}
		}
	}

	for _, id := range g.StepIDs() {
		step := g.Step(id)
		if step.Kind != models.StepKindAction {
			continue
		}

		switch owner[id] {
		case "":
			add(Problem{StepID: id, Code: CodeNoTriggerAncestor, Message: "step " + id + " is not reachable from any trigger"})
		case "*":
			add(Problem{StepID: id, Code: CodeSharedAncestry, Message: "step " + id + " is reachable from more than one trigger"})
		}
	}
}

func (v *Validator) checkTriggers(workflow *models.Workflow, g *Graph, add func(Problem)) {
	bound := make(map[string]bool, len(workflow.Triggers))

	for _, trigger := range workflow.Triggers {
		step := g.Step(trigger.StepID)

		switch {
		case step == nil || step.Kind != models.StepKindTrigger:
			add(Problem{StepID: trigger.StepID, Code: CodeInvalidTrigger, Message: fmt.Sprintf("trigger %s is bound to %q which is not a trigger step", trigger.ID, trigger.StepID)})

			continue
		case trigger.SourceID == "":
			add(Problem{StepID: trigger.StepID, Code: CodeInvalidTrigger, Message: "trigger on step " + trigger.StepID + " has no source id"})
		case trigger.Type != models.TriggerTypeFormSubmission && trigger.Type != models.TriggerTypeDatabaseChange:
			add(Problem{StepID: trigger.StepID, Code: CodeInvalidTrigger, Message: fmt.Sprintf("trigger on step %s has unknown type %q", trigger.StepID, trigger.Type)})
		case trigger.Type == models.TriggerTypeDatabaseChange && len(trigger.Operations) == 0:
			add(Problem{StepID: trigger.StepID, Code: CodeInvalidTrigger, Message: "database_change trigger on step " + trigger.StepID + " lists no operations"})
		case step.ActionType != "" && step.ActionType != string(trigger.Type):
			add(Problem{StepID: trigger.StepID, Code: CodeInvalidTrigger, Message: fmt.Sprintf("trigger type %s does not match step type %s", trigger.Type, step.ActionType)})
		}

		bound[trigger.StepID] = true
	}

	for _, id := range g.TriggerSteps() {
		if !bound[id] {
			add(Problem{StepID: id, Code: CodeUnboundTrigger, Message: "trigger step " + id + " has no trigger binding"})
		}
	}
}

func (v *Validator) checkConfigs(g *Graph, add func(Problem)) {
	if v.catalog == nil {
		return
	}

	for _, id := range g.StepIDs() {
		step := g.Step(id)
		if step.Kind != models.StepKindAction {
			continue
		}

		schema, ok := v.catalog.Schema(step.ActionType)
		if !ok {
			add(Problem{StepID: id, Code: CodeUnknownActionType, Message: fmt.Sprintf("step %s uses unknown action type %q", id, step.ActionType)})

			continue
		}

		config := step.Config
		if config == nil {
			config = map[string]any{}
		}

		if err := validateAgainstSchema(schema, config); err != nil {
			add(Problem{StepID: id, Code: CodeInvalidConfig, Message: fmt.Sprintf("step %s: %v", id, err)})

			continue
		}

		if err := v.catalog.ValidateConfig(step.ActionType, config); err != nil {
			add(Problem{StepID: id, Code: CodeInvalidConfig, Message: fmt.Sprintf("step %s: %v", id, err)})
		}
	}
}

func validateAgainstSchema(schema *models.JSONSchema, config map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}

	return fmt.Errorf("config does not match schema: %s", strings.Join(messages, "; "))
}
