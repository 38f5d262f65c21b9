package catalog

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque identifier for APIs, resources and policies.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the API and every resource it owns.
func (a *API) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAPI)
	}
	if len(a.Name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidAPI, MaxNameLength)
	}
	if len(a.Description) > MaxTextLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidAPI, MaxTextLength)
	}
	if err := ValidateContext(a.Context); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(a.Resources))
	for i := range a.Resources {
		res := &a.Resources[i]
		if err := res.Validate(); err != nil {
			return fmt.Errorf("resource %d: %w", i, err)
		}
		if res.ID == "" {
			continue
		}
		if _, dup := seen[res.ID]; dup {
			return fmt.Errorf("%w: %s", ErrResourceExists, res.ID)
		}
		seen[res.ID] = struct{}{}
	}
	return nil
}

// ValidateContext checks an API context path such as "/billing/v1".
func ValidateContext(path string) error {
	if path == "" {
		return fmt.Errorf("%w: context is required", ErrInvalidAPI)
	}
	if len(path) > MaxNameLength {
		return fmt.Errorf("%w: context exceeds %d characters", ErrInvalidAPI, MaxNameLength)
	}
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return fmt.Errorf("%w: context %q must start with a path segment", ErrInvalidAPI, path)
	}
	if strings.IndexFunc(path, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: context %q contains whitespace", ErrInvalidAPI, path)
	}
	return nil
}

// Validate checks the resource type against its attribute variant.
func (r *Resource) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidResource)
	}
	if len(r.Type) > MaxNameLength {
		return fmt.Errorf("%w: type exceeds %d characters", ErrInvalidResource, MaxNameLength)
	}

	switch r.Type {
	case TypeRest:
		if r.Rest == nil {
			return fmt.Errorf("%w: rest resource needs rest attributes", ErrInvalidResource)
		}
		if r.Messaging != nil {
			return fmt.Errorf("%w: rest resource carries messaging attributes", ErrInvalidResource)
		}
		if !strings.HasPrefix(r.Rest.Path, "/") {
			return fmt.Errorf("%w: rest path %q must start with /", ErrInvalidResource, r.Rest.Path)
		}
	case TypeJms:
		if r.Messaging == nil {
			return fmt.Errorf("%w: jms resource needs messaging attributes", ErrInvalidResource)
		}
		if r.Rest != nil {
			return fmt.Errorf("%w: jms resource carries rest attributes", ErrInvalidResource)
		}
		if r.Messaging.Destination == "" {
			return fmt.Errorf("%w: destination is required", ErrInvalidResource)
		}
		switch r.Messaging.DestinationType {
		case "", DestinationQueue, DestinationTopic:
		default:
			return fmt.Errorf("%w: destination type %q", ErrInvalidResource, r.Messaging.DestinationType)
		}
	default:
		if r.Rest != nil || r.Messaging != nil {
			return fmt.Errorf("%w: type %q takes free-form attributes only", ErrInvalidResource, r.Type)
		}
	}
	return nil
}

// AddResource appends a resource to the API, assigning an ID when empty.
// The returned pointer refers to the stored entry and is valid until the
// next AddResource or RemoveResource.
func (a *API) AddResource(res Resource) (*Resource, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if res.ID == "" {
		res.ID = NewID()
	} else if a.Resource(res.ID) != nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceExists, res.ID)
	}
	res.APIID = a.ID

	a.Resources = append(a.Resources, *res.DeepCopy())
	return &a.Resources[len(a.Resources)-1], nil
}

// RemoveResource drops a resource and its policy attachments.
func (a *API) RemoveResource(id string) error {
	idx := a.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	a.Resources = slices.Delete(a.Resources, idx, idx+1)
	return nil
}

// Resource returns the resource with the given ID, or nil.
func (a *API) Resource(id string) *Resource {
	if idx := a.indexOf(id); idx >= 0 {
		return &a.Resources[idx]
	}
	return nil
}

// AttachPolicy links a policy to a resource. Attaching twice is a no-op.
func (a *API) AttachPolicy(resourceID, policyID string) error {
	if policyID == "" {
		return fmt.Errorf("%w: policy id is required", ErrInvalidResource)
	}
	res := a.Resource(resourceID)
	if res == nil {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
	}
	if !slices.Contains(res.PolicyIDs, policyID) {
		res.PolicyIDs = append(res.PolicyIDs, policyID)
	}
	return nil
}

// DetachPolicy unlinks a policy from a resource.
func (a *API) DetachPolicy(resourceID, policyID string) error {
	res := a.Resource(resourceID)
	if res == nil {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
	}
	res.PolicyIDs = slices.DeleteFunc(res.PolicyIDs, func(id string) bool { return id == policyID })
	return nil
}

// CheckTypes reports ErrTypeImmutable when any resource present in both
// previous and a has a different type.
func (a *API) CheckTypes(previous *API) error {
	if previous == nil {
		return nil
	}
	for i := range a.Resources {
		res := &a.Resources[i]
		old := previous.Resource(res.ID)
		if old != nil && old.Type != res.Type {
			return fmt.Errorf("%w: resource %s is %q, not %q", ErrTypeImmutable, res.ID, old.Type, res.Type)
		}
	}
	return nil
}

// Types returns the distinct resource types in declaration order.
func (a *API) Types() []string {
	var types []string
	for i := range a.Resources {
		if !slices.Contains(types, a.Resources[i].Type) {
			types = append(types, a.Resources[i].Type)
		}
	}
	return types
}

func (a *API) indexOf(id string) int {
	return slices.IndexFunc(a.Resources, func(r Resource) bool { return r.ID == id })
}
