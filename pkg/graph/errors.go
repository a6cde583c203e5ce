package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidWorkflow matches every *ValidationError through errors.Is.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Problem codes reported by the Validator.
const (
	CodeEmptyStepID        = "empty_step_id"
	CodeDuplicateStep      = "duplicate_step"
	CodeInvalidKind        = "invalid_kind"
	CodeNoTrigger          = "no_trigger"
	CodeDanglingEdge       = "dangling_edge"
	CodeSelfLoop           = "self_loop"
	CodeCycle              = "cycle"
	CodeInvalidBranch      = "invalid_branch"
	CodeTriggerHasIncoming = "trigger_has_incoming"
	CodeNoTriggerAncestor  = "no_trigger_ancestor"
	CodeSharedAncestry     = "shared_ancestry"
	CodeUnknownActionType  = "unknown_action_type"
	CodeInvalidConfig      = "invalid_config"
	CodeInvalidTrigger     = "invalid_trigger"
	CodeUnboundTrigger     = "unbound_trigger"
)

type Problem struct {
	StepID  string   `json:"step_id,omitempty"`
	StepIDs []string `json:"step_ids,omitempty"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// ValidationError lists every problem found in a workflow. It blocks activation.
type ValidationError struct {
	WorkflowID string    `json:"workflow_id"`
	Problems   []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		messages = append(messages, p.Message)
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(messages, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

// Has reports whether a problem with the given code was found.
func (e *ValidationError) Has(code string) bool {
	for _, p := range e.Problems {
		if p.Code == code {
			return true
		}
	}

	return false
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}
