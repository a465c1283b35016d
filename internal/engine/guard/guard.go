// Package guard defines the typed error taxonomy for marketplace operations.
// Every rejection crosses the engine boundary as one of these values so
// callers can map them to transport codes and show the reason verbatim.
package guard

import "fmt"

// UnauthenticatedError indicates no caller identity was supplied.
type UnauthenticatedError struct{}

func (UnauthenticatedError) Error() string { return "authentication required" }

// UnauthorizedError indicates the caller lacks the role the action needs.
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "not allowed"
}

// InvalidTransitionError indicates a state guard failed.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition %s -> %s", e.From, e.To)
}

// ValidationError indicates malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

// AlreadyRatedError indicates a second rating in the same direction.
type AlreadyRatedError struct {
	JobID     string
	Direction string
}

func (e AlreadyRatedError) Error() string {
	return fmt.Sprintf("job %s already rated (%s)", e.JobID, e.Direction)
}
