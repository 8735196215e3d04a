package coreplane

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Method dispatch errors.
	ErrMethodNotFound  = errors.New("coreplane: method not found")
	ErrDuplicateMethod = errors.New("coreplane: duplicate method name")
	ErrServiceExists   = errors.New("coreplane: service already registered")

	// Job errors.
	ErrJobNotFound   = errors.New("coreplane: job not found")
	ErrJobAborted    = errors.New("coreplane: job aborted")
	ErrNotAbortable  = errors.New("coreplane: job is not abortable")
	ErrPipeNotReady  = errors.New("coreplane: job pipe is not connected")
	ErrSchedulerDown = errors.New("coreplane: scheduler is shut down")
	ErrPoolClosed    = errors.New("coreplane: worker pool is closed")
	ErrNoProcessPool = errors.New("coreplane: no process worker configured")

	// Replicated backend errors.
	ErrVersionConflict = errors.New("coreplane: stored payload version conflict")
)

// ValidationError describes a single invalid field. Field is a dotted path
// into the submitted payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors batches field validation failures so they can all be
// reported in a single round trip. Raised before any mutation takes place.
type ValidationErrors struct {
	Errors []*ValidationError
}

// Add appends a field error to the batch.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// Check returns the batch as an error if any field errors were added,
// nil otherwise.
func (e *ValidationErrors) Check() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// NotFoundError reports that a keyed lookup found nothing.
type NotFoundError struct {
	Namespace string
	ID        any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v does not exist", e.Namespace, e.ID)
}

// Dependent identifies a store holding a live foreign-key reference to a
// record whose deletion was requested.
type Dependent struct {
	Datastore string
	Service   string
	Field     string
	Objects   []Record
}

// DependencyConflictError reports that a delete was refused because other
// stores still reference the record. It enumerates each referencing
// store/service so callers can present them.
type DependencyConflictError struct {
	Dependents []Dependent
}

func (e *DependencyConflictError) Error() string {
	var b strings.Builder
	b.WriteString("this object is being used by the following service(s):\n")
	for i, dep := range e.Dependents {
		name, kind := dep.Datastore, "datastore"
		if dep.Service != "" {
			name, kind = dep.Service, "service"
		}
		fmt.Fprintf(&b, "%d) %q %s\n", i+1, name, kind)
	}
	return b.String()
}

// UnhealthyBackendError reports a write attempted against an unhealthy
// replicated backend. Reads never produce this error; they degrade to
// defaults instead.
type UnhealthyBackendError struct {
	Namespace string
}

func (e *UnhealthyBackendError) Error() string {
	return fmt.Sprintf("%s: clustered configuration may not be altered while cluster is unhealthy", e.Namespace)
}

// VersionMismatchError reports a write attempted against a stored payload
// whose version stamp is incompatible with the compiled-in version.
type VersionMismatchError struct {
	Namespace string
	Local     Version
	Stored    Version
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: service version mismatch, node: %s, cluster: %s", e.Namespace, e.Local, e.Stored)
}

// InternalError wraps an unexpected failure. It is operator-actionable
// rather than user-actionable; the recover middleware attaches the stack.
type InternalError struct {
	Err   error
	Stack string
}

func (e *InternalError) Error() string { return e.Err.Error() }

func (e *InternalError) Unwrap() error { return e.Err }

// IsExpected reports whether err belongs to the expected taxonomy
// (validation, not-found, dependency, backend health, version mismatch).
// Expected errors are surfaced to the caller verbatim; anything else is
// logged with full context as an internal fault.
func IsExpected(err error) bool {
	var (
		ve  *ValidationErrors
		sve *ValidationError
		nf  *NotFoundError
		dc  *DependencyConflictError
		ub  *UnhealthyBackendError
		vm  *VersionMismatchError
	)
	return errors.As(err, &ve) || errors.As(err, &sve) || errors.As(err, &nf) ||
		errors.As(err, &dc) || errors.As(err, &ub) || errors.As(err, &vm)
}
