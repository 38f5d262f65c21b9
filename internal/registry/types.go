package registry

import "maps"

// Service is the root unit of deployment tracking.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Environment is a deployment target such as staging or production.
type Environment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// Maintainer is a person or team referenced by environments.
// Name is the primary key.
type Maintainer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Team  string `json:"team,omitempty"`
}

// DataFormat describes the payload shape at an endpoint.
type DataFormat struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Sample string `json:"sample,omitempty"`
	Schema string `json:"schema,omitempty"`
}

// Endpoint is a network location. Location is the primary key; the format
// references are optional and hold DataFormat IDs.
type Endpoint struct {
	Location     string `json:"location"`
	InputFormat  string `json:"input_format,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// EnvironmentMaintainer assigns a maintainer to an environment with a role.
type EnvironmentMaintainer struct {
	EnvironmentID  string `json:"environment_id"`
	MaintainerName string `json:"maintainer_name"`
	Role           string `json:"role,omitempty"`
}

// DeploymentState is the lifecycle state of a service in an environment.
type DeploymentState string

// Deployment lifecycle states.
const (
	StateRegistered DeploymentState = "REGISTERED"
	StateEnabled    DeploymentState = "ENABLED"
	StateDisabled   DeploymentState = "DISABLED"
	StateRemoved    DeploymentState = "REMOVED"
)

// AllStates lists every lifecycle state.
func AllStates() []DeploymentState {
	return []DeploymentState{StateRegistered, StateEnabled, StateDisabled, StateRemoved}
}

// Valid reports whether s is one of the lifecycle states.
func (s DeploymentState) Valid() bool {
	switch s {
	case StateRegistered, StateEnabled, StateDisabled, StateRemoved:
		return true
	}
	return false
}

// Deployment records a service deployed to an environment.
// The pair (ServiceID, EnvironmentID) identifies it.
type Deployment struct {
	ServiceID     string          `json:"service_id"`
	EnvironmentID string          `json:"environment_id"`
	State         DeploymentState `json:"state"`
	Version       string          `json:"version,omitempty"`

	// Endpoint and Gateway reference Endpoint locations and may be empty.
	Endpoint string `json:"endpoint,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
}

// Metadata is free-form key/value data attached to a deployment.
type Metadata map[string]string

// Clone returns an independent copy; nil stays nil.
func (m Metadata) Clone() Metadata {
	return maps.Clone(m)
}
