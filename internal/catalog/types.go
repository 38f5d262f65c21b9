package catalog

import "slices"

// Built in resource types.
const (
	// TypeRest marks an HTTP route exposed by the REST handler.
	TypeRest = "rest"

	// TypeJms marks a messaging destination exposed by the messaging handler.
	TypeJms = "jms"
)

// Destination kinds for messaging resources.
const (
	DestinationQueue = "queue"
	DestinationTopic = "topic"
)

// Field limits matching the store's column widths.
const (
	MaxNameLength = 200
	MaxTextLength = 8192
)

// API is a named collection of resources exposed under one context path.
type API struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Context     string     `json:"context"`
	Description string     `json:"description,omitempty"`
	Resources   []Resource `json:"resources"`
}

// Resource is a single addressable unit of an API.
//
// Exactly one attribute field is meaningful, selected by Type: Rest for
// TypeRest, Messaging for TypeJms, Attributes for anything else.
type Resource struct {
	ID          string               `json:"id"`
	APIID       string               `json:"api_id"`
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Rest        *RestAttributes      `json:"rest,omitempty"`
	Messaging   *MessagingAttributes `json:"messaging,omitempty"`
	Attributes  map[string]string    `json:"attributes,omitempty"`
	PolicyIDs   []string             `json:"policy_ids,omitempty"`
}

// RestAttributes describe an HTTP route.
type RestAttributes struct {
	Path      string `json:"path"`
	Method    string `json:"method"`
	Version   string `json:"version,omitempty"`
	Accept    string `json:"accept,omitempty"`
	MediaType string `json:"media_type,omitempty"`

	// Response is served verbatim when Endpoint is empty.
	Response string `json:"response,omitempty"`

	// Endpoint is the upstream URL requests are proxied to.
	Endpoint string `json:"endpoint,omitempty"`
}

// MessagingAttributes describe a broker destination.
type MessagingAttributes struct {
	Destination     string `json:"destination"`
	DestinationType string `json:"destination_type"`
	Selector        string `json:"selector,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
}

// Policy is a reusable definition attached to resources.
// Its lifetime is independent of any resource.
type Policy struct {
	ID         string `json:"id"`
	Definition string `json:"definition"`
}

// DeepCopy returns a copy sharing no mutable state with r.
func (r *Resource) DeepCopy() *Resource {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Rest != nil {
		rest := *r.Rest
		cp.Rest = &rest
	}
	if r.Messaging != nil {
		msg := *r.Messaging
		cp.Messaging = &msg
	}
	if r.Attributes != nil {
		cp.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	cp.PolicyIDs = slices.Clone(r.PolicyIDs)
	return &cp
}

// DeepCopy returns a copy of the API and all its resources.
func (a *API) DeepCopy() *API {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Resources != nil {
		cp.Resources = make([]Resource, len(a.Resources))
		for i := range a.Resources {
			cp.Resources[i] = *a.Resources[i].DeepCopy()
		}
	}
	return &cp
}
