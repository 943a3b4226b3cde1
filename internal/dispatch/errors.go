package dispatch

import "fmt"

// Kind classifies a rejected dispatch.
type Kind string

const (
	KindUnknownInstance  Kind = "unknown_instance"
	KindExpired          Kind = "expired"
	KindNotOffered       Kind = "not_offered"
	KindInFlight         Kind = "in_flight"
	KindUnknownOperation Kind = "unknown_operation"
)

// Error is returned when a dispatch is rejected before the operation runs.
type Error struct {
	Kind       Kind
	InstanceID string
	State      State
	Msg        string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch %s: %s", e.Kind, e.InstanceID)
	if e.State != "" {
		msg += fmt.Sprintf(" (state %s)", e.State)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

// Is matches on Kind so callers can write errors.Is(err, &Error{Kind: KindExpired}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// OperationFailure carries an operation's own error unchanged.
type OperationFailure struct {
	Operation string
	Err       error
}

func (e *OperationFailure) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.Operation, e.Err)
}

func (e *OperationFailure) Unwrap() error { return e.Err }
