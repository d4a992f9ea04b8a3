package domain

import "fmt"

// DecodeError indicates the persisted document could not be parsed as JSON.
// It is fatal to a load or import; callers must not overwrite a document
// they could not parse.
type DecodeError struct {
	Cause error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decode stash document: %v", e.Cause)
}

func (e DecodeError) Unwrap() error { return e.Cause }

// ValidationError indicates a referential, uniqueness or blank-field
// violation in a decoded document. It is never auto-repaired.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid stash document: %s", e.Reason)
}

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ErrNotFound is returned when an operation references an unknown entity id.
type ErrNotFound struct {
	Entity EntityType
	ID     int
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// IOError wraps a blob store failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e IOError) Unwrap() error { return e.Err }
