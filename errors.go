package velomigrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/velomigrate/store"
)

// Standard sentinel errors.
var (
	// ErrInvalidState is returned when a Migrator operation is invoked in a
	// state that does not allow it, e.g. MigrateEntity before Begin.
	ErrInvalidState = errors.New("velomigrate: invalid migrator state")

	// ErrOptionsFrozen is returned when store options are changed after Begin.
	ErrOptionsFrozen = errors.New("velomigrate: store options are read-only after begin")

	// ErrReadOnly is returned by stores on writes to a read-only connection.
	ErrReadOnly = errors.New("velomigrate: store is read-only")

	// ErrUnknownEntity is returned for entity names the model does not define.
	ErrUnknownEntity = errors.New("velomigrate: unknown entity")

	// ErrUnknownRelationship is returned for relationship names the model
	// does not define on the entity.
	ErrUnknownRelationship = errors.New("velomigrate: unknown relationship")

	// ErrNotFound is returned by stores when a referenced object does not exist.
	ErrNotFound = errors.New("velomigrate: object not found")
)

// StateError is returned when an operation is invoked in the wrong
// Migrator state. It is a programming error.
type StateError struct {
	Op    string // Operation, e.g. "MigrateEntity"
	State State  // State the migrator was in
}

// Error returns the error string.
func (e *StateError) Error() string {
	return fmt.Sprintf("velomigrate: %s not allowed in state %s", e.Op, e.State)
}

// Is reports whether the target error matches StateError.
// This allows errors.Is(stateErr, ErrInvalidState) to return true.
func (e *StateError) Is(err error) bool {
	return err == ErrInvalidState
}

// IsStateError returns true if the error is a StateError.
func IsStateError(err error) bool {
	if err == nil {
		return false
	}
	var e *StateError
	return errors.As(err, &e)
}

// ArgumentError is returned for invalid operation arguments.
type ArgumentError struct {
	Op  string
	Err error
}

// Error returns the error string.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("velomigrate: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// OpenError is returned when a store connection cannot be opened.
type OpenError struct {
	Role     string // "source" or "destination"
	Location string
	Err      error
}

// Error returns the error string.
func (e *OpenError) Error() string {
	return fmt.Sprintf("velomigrate: open %s store %q: %v", e.Role, e.Location, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpenError) Unwrap() error {
	return e.Err
}

// IsOpenError returns true if the error is an OpenError.
func IsOpenError(err error) bool {
	if err == nil {
		return false
	}
	var e *OpenError
	return errors.As(err, &e)
}

// FetchError wraps a failure to read source objects.
type FetchError struct {
	Entity string
	Offset int
	Err    error
}

// Error returns the error string.
func (e *FetchError) Error() string {
	return fmt.Sprintf("velomigrate: fetch %s at offset %d: %v", e.Entity, e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError returns true if the error is a FetchError.
func IsFetchError(err error) bool {
	if err == nil {
		return false
	}
	var e *FetchError
	return errors.As(err, &e)
}

// CommitError wraps a failed commit of the destination store. The
// destination is left as it was after the previous successful commit.
type CommitError struct {
	Entity string // Entity being migrated, if any
	Batch  int    // 1-based batch number within the MigrateEntity call, 0 if none
	Err    error
}

// Error returns the error string.
func (e *CommitError) Error() string {
	switch {
	case e.Batch > 0:
		return fmt.Sprintf("velomigrate: commit %s batch %d: %v", e.Entity, e.Batch, e.Err)
	case e.Entity != "":
		return fmt.Sprintf("velomigrate: commit %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("velomigrate: commit: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsCommitError returns true if the error is a CommitError.
func IsCommitError(err error) bool {
	if err == nil {
		return false
	}
	var e *CommitError
	return errors.As(err, &e)
}

// UnresolvedLink is one relationship value that could not be stitched
// because its target was never migrated.
type UnresolvedLink struct {
	Source store.Ref // Source object owning the relationship
	Target store.Ref // Source object the relationship points at
}

// StitchError reports the links a Stitch call could not resolve. Every
// resolvable link was still set.
type StitchError struct {
	Entity       string
	Relationship string
	Unresolved   []UnresolvedLink
}

// Error returns the error string.
func (e *StitchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "velomigrate: stitch %s.%s: %d unresolved target(s):", e.Entity, e.Relationship, len(e.Unresolved))
	for i, u := range e.Unresolved {
		fmt.Fprintf(&sb, "\n  [%d] %s -> %s", i+1, u.Source, u.Target)
	}
	return sb.String()
}

// IsStitchError returns true if the error is a StitchError.
func IsStitchError(err error) bool {
	if err == nil {
		return false
	}
	var e *StitchError
	return errors.As(err, &e)
}

// ValidationError is returned by stores when an object fails validation on
// commit, e.g. a required relationship or attribute is unset.
type ValidationError struct {
	Entity string
	ID     store.ID
	Name   string // Attribute or relationship name
	Err    error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("velomigrate: validation failed for %s/%s field %q: %v", e.Entity, e.ID, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError.
func NewValidationError(entity string, id store.ID, name string, err error) *ValidationError {
	return &ValidationError{Entity: entity, ID: id, Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("velomigrate: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "velomigrate: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("velomigrate: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
