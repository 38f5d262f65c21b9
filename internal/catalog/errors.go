package catalog

import "errors"

// Domain errors for the catalog package.
var (
	// ErrInvalidAPI is returned when an API fails structural validation.
	ErrInvalidAPI = errors.New("catalog: invalid api")

	// ErrInvalidResource is returned when a resource fails validation.
	ErrInvalidResource = errors.New("catalog: invalid resource")

	// ErrTypeImmutable is returned when an update would change the type of
	// an existing resource.
	ErrTypeImmutable = errors.New("catalog: resource type is immutable")

	// ErrResourceNotFound is returned when a resource ID is not part of the API.
	ErrResourceNotFound = errors.New("catalog: resource not found")

	// ErrResourceExists is returned when adding a resource whose ID is already used.
	ErrResourceExists = errors.New("catalog: resource already exists")
)
