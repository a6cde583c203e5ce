package trigger

import (
	"errors"
	"fmt"

	"github.com/dukex/flowbase/pkg/models"
)

var (
	ErrNoTrigger    = errors.New("no trigger listens on this source")
	ErrInvalidEvent = errors.New("invalid event")
)

// TriggerMatchError reports an event whose source no active workflow
// listens on. Callers log it and drop the event.
type TriggerMatchError struct {
	Type     models.TriggerType
	SourceID string
}

func (e *TriggerMatchError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrNoTrigger, e.Type, e.SourceID)
}

func (e *TriggerMatchError) Is(target error) bool {
	return target == ErrNoTrigger
}

func IsTriggerMatchError(err error) bool {
	var target *TriggerMatchError

	return errors.As(err, &target)
}
