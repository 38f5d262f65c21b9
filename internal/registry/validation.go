package registry

import (
	"fmt"
	"strings"

	"github.com/nerrad567/vineyard-core/internal/catalog"
)

// Column widths shared with the schema templates.
const (
	maxName    = catalog.MaxNameLength
	maxText    = catalog.MaxTextLength
	maxVersion = 50
)

func requireName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	return checkLen(field, v, maxName)
}

func checkLen(field, v string, limit int) error {
	if len(v) > limit {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalid, field, limit)
	}
	return nil
}

// ValidateService checks field presence and column widths.
func ValidateService(s *Service) error {
	if err := requireName("name", s.Name); err != nil {
		return err
	}
	return checkLen("description", s.Description, maxText)
}

// ValidateEnvironment checks field presence and column widths.
func ValidateEnvironment(e *Environment) error {
	if err := requireName("name", e.Name); err != nil {
		return err
	}
	if err := checkLen("description", e.Description, maxText); err != nil {
		return err
	}
	return checkLen("scope", e.Scope, maxName)
}

// ValidateMaintainer checks field presence and column widths.
func ValidateMaintainer(m *Maintainer) error {
	if err := requireName("name", m.Name); err != nil {
		return err
	}
	if err := checkLen("email", m.Email, maxName); err != nil {
		return err
	}
	return checkLen("team", m.Team, maxName)
}

// ValidateDataFormat checks field presence and column widths.
func ValidateDataFormat(f *DataFormat) error {
	if err := requireName("name", f.Name); err != nil {
		return err
	}
	if err := checkLen("sample", f.Sample, maxText); err != nil {
		return err
	}
	return checkLen("schema", f.Schema, maxText)
}

// ValidateEndpoint checks the location key.
func ValidateEndpoint(e *Endpoint) error {
	return requireName("location", e.Location)
}

// ValidateDeployment checks keys, state and column widths.
func ValidateDeployment(d *Deployment) error {
	if d.ServiceID == "" || d.EnvironmentID == "" {
		return fmt.Errorf("%w: service and environment are required", ErrInvalid)
	}
	if !d.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, d.State)
	}
	if err := checkLen("version", d.Version, maxVersion); err != nil {
		return err
	}
	if err := checkLen("endpoint", d.Endpoint, maxName); err != nil {
		return err
	}
	return checkLen("gateway", d.Gateway, maxName)
}

func validateMetaKey(key string) error {
	return requireName("metadata key", key)
}
