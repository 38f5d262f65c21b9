package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrNotFound) {
//	    // absent, as opposed to present but empty
//	}
var (
	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrPersistence is returned when the store rejects a write (constraint
	// violation) or fails with an I/O error. The unit of work is rolled back.
	ErrPersistence = errors.New("registry: persistence failure")

	// ErrDuplicate accompanies ErrPersistence when a primary or unique key
	// is already taken.
	ErrDuplicate = errors.New("registry: duplicate key")

	// ErrDuplicateContext is returned when an API context path is already
	// used by another API.
	ErrDuplicateContext = errors.New("registry: duplicate api context")

	// ErrConflict is returned when a delete cannot complete, either because
	// a cascade step failed or because a registration still publishes the
	// entity. Nothing is removed.
	ErrConflict = errors.New("registry: delete conflict")

	// ErrInvalid is returned when an entity fails validation.
	ErrInvalid = errors.New("registry: invalid entity")

	// ErrInvalidState is returned for a deployment state outside the lifecycle.
	ErrInvalidState = errors.New("registry: invalid deployment state")
)
