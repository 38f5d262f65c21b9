package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the gateway package.
var (
	// ErrNoHandler is returned when no handler advertises a resource type.
	ErrNoHandler = errors.New("gateway: no handler for resource type")

	// ErrAmbiguousHandler is returned when more than one handler advertises
	// a resource type. This is a configuration error.
	ErrAmbiguousHandler = errors.New("gateway: ambiguous handler for resource type")

	// ErrPartialTeardown is returned when some resources failed to unpublish.
	ErrPartialTeardown = errors.New("gateway: partial teardown")

	// ErrInvalidTransition is returned for a lifecycle move the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("gateway: invalid state transition")

	// ErrAlreadyRegistered is returned when the service is already
	// registered in the environment.
	ErrAlreadyRegistered = errors.New("gateway: already registered")

	// ErrInvalidRegistration is returned for a malformed registration ID or
	// request.
	ErrInvalidRegistration = errors.New("gateway: invalid registration")

	// ErrNotAdmitted is returned when no enabled registration serves an API.
	ErrNotAdmitted = errors.New("gateway: no enabled registration")
)

// NoHandlerError names the resource type nobody handles.
type NoHandlerError struct {
	Type string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("%s %q", ErrNoHandler, e.Type)
}

// Is reports whether target is ErrNoHandler.
func (e *NoHandlerError) Is(target error) bool {
	return target == ErrNoHandler
}

// AmbiguousHandlerError names the resource type and how many handlers
// claim it.
type AmbiguousHandlerError struct {
	Type  string
	Count int
}

func (e *AmbiguousHandlerError) Error() string {
	return fmt.Sprintf("%s %q (%d handlers)", ErrAmbiguousHandler, e.Type, e.Count)
}

// Is reports whether target is ErrAmbiguousHandler.
func (e *AmbiguousHandlerError) Is(target error) bool {
	return target == ErrAmbiguousHandler
}

// UnpublishFailure records one resource that could not be unpublished.
type UnpublishFailure struct {
	ResourceID string
	Type       string
	Err        error
}

// UnpublishPartialFailure lists every resource of an API whose teardown
// failed. It is a warning: the caller has already moved on.
type UnpublishPartialFailure struct {
	APIID     string
	Attempted int
	Failures  []UnpublishFailure
}

func (e *UnpublishPartialFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s of api %s: %d of %d resources failed", ErrPartialTeardown, e.APIID, len(e.Failures), e.Attempted)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s (%s): %v", f.ResourceID, f.Type, f.Err)
	}
	return b.String()
}

// Is reports whether target is ErrPartialTeardown.
func (e *UnpublishPartialFailure) Is(target error) bool {
	return target == ErrPartialTeardown
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *UnpublishPartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
