package types

import (
	"fmt"
	"regexp"
)

var executionNameRe = regexp.MustCompile(`^[a-zA-Z0-9\-]+$`)

// ValidateExecutionName checks the user-supplied execution name
func ValidateExecutionName(name string) error {
	if len(name) < 4 || len(name) > 128 {
		return fmt.Errorf("%w: execution name must be between 4 and 128 characters long", ErrValidation)
	}
	if !executionNameRe.MatchString(name) {
		return fmt.Errorf("%w: execution name can contain only letters, numbers and dashes. '%s' is not valid", ErrValidation, name)
	}
	return nil
}

// Validate checks that an application description can be scheduled
func (a *ApplicationDescription) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: missing application description", ErrValidation)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: application name is required", ErrValidation)
	}
	if len(a.Services) == 0 {
		return fmt.Errorf("%w: application %s has no services", ErrValidation, a.Name)
	}

	names := make(map[string]bool, len(a.Services))
	monitors := 0
	for i, s := range a.Services {
		if s.Name == "" {
			return fmt.Errorf("%w: service %d has no name", ErrValidation, i)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate service name %s", ErrValidation, s.Name)
		}
		names[s.Name] = true

		if s.Image == "" {
			return fmt.Errorf("%w: service %s has no image", ErrValidation, s.Name)
		}
		if s.Resources.Cores < 0 || s.Resources.MemoryBytes < 0 {
			return fmt.Errorf("%w: service %s requests negative resources", ErrValidation, s.Name)
		}
		if s.Monitor {
			monitors++
		}
		for _, p := range s.Ports {
			if p.PortNumber <= 0 || p.PortNumber > 65535 {
				return fmt.Errorf("%w: service %s port %s has invalid number %d", ErrValidation, s.Name, p.Name, p.PortNumber)
			}
			if p.Protocol != "" && p.Protocol != "tcp" && p.Protocol != "udp" {
				return fmt.Errorf("%w: service %s port %s has invalid protocol %s", ErrValidation, s.Name, p.Name, p.Protocol)
			}
		}
	}
	if monitors == 0 {
		return fmt.Errorf("%w: application %s needs at least one monitor service", ErrValidation, a.Name)
	}
	return nil
}
