package manager

import (
	"errors"
	"fmt"
)

// Error kinds raised by the orchestrator. Input validation errors are
// raised synchronously before any state is mutated; ErrInvalidStatus is
// the only retryable kind (see the executor retry policy).
var (
	ErrMissingParameter    = errors.New("manager: missing parameter")
	ErrMissingTrustID      = errors.New("manager: missing trust id")
	ErrInvalidDate         = errors.New("manager: invalid date")
	ErrInvalidInput        = errors.New("manager: invalid input")
	ErrInvalidStatus       = errors.New("manager: invalid status")
	ErrLeaseNameExists     = errors.New("manager: lease name already exists")
	ErrUnsupportedResource = errors.New("manager: unsupported resource type")
	ErrCantUpdateParameter = errors.New("manager: parameter cannot be updated")
	ErrEventType           = errors.New("manager: unsupported event type")
)

func missingParameter(params ...string) error {
	return fmt.Errorf("%w: %v", ErrMissingParameter, params)
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
