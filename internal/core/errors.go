package core

import (
	"errors"
	"fmt"

	"luxeconcierge.com/lead-intake/internal/store"
)

var (
	// ErrValidation marks input rejected before any external call.
	ErrValidation = errors.New("validation error")
	// ErrProvider marks a failed or timed out completion call.
	ErrProvider = errors.New("completion provider error")
	// ErrParse marks a malformed side-channel block. It never reaches callers.
	ErrParse = errors.New("side-channel parse error")
	// ErrPersistence marks a repository failure.
	ErrPersistence = errors.New("persistence error")
	// ErrTurnFailed marks an unexpected failure inside a turn.
	ErrTurnFailed = errors.New("turn failed")
	// ErrNotFound marks a missing conversation or lead. It is the store's
	// sentinel so repository errors match it directly.
	ErrNotFound = store.ErrNotFound
)

// TurnError records the orchestrator state a turn failed in.
type TurnError struct {
	State TurnState
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in state %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// validationErr keeps the caller-facing text apart from any wrapping added
// on the way out.
type validationErr struct {
	msg string
}

func (e *validationErr) Error() string { return ErrValidation.Error() + ": " + e.msg }

func (e *validationErr) Unwrap() error { return ErrValidation }

func validationError(format string, args ...interface{}) error {
	return &validationErr{msg: fmt.Sprintf(format, args...)}
}

// InvalidRequestMessage is shown for validation errors that carry no text of
// their own.
const InvalidRequestMessage = "The request is invalid."

// UserMessage converts err into a terse message that is safe to show to a
// visitor. Only validation errors carry their own text, and only the
// innermost message is used.
func UserMessage(err error) string {
	var verr *validationErr
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.msg
	case errors.Is(err, ErrValidation):
		return InvalidRequestMessage
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found."
	default:
		return GenericFailureMessage
	}
}

const GenericFailureMessage = "Sorry, something went wrong on our side. Please try again."
