package notify

import (
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
)

// Error is a failed delivery to the orchestrator. Exactly one of Status and
// Err is set: Status for a non-2xx response, Err for a transport failure.
type Error struct {
	Kind   types.DecisionKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notify %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("notify %s: orchestrator returned status %d", e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotifyError reports whether err is a delivery failure and returns it.
func IsNotifyError(err error) (*Error, bool) {
	var ne *Error
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}
