package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a view definition the engine refuses to guess around.
	ErrConfiguration = errors.New("invalid view configuration")
	// ErrAccessDenied marks an identity the viewer is not allowed to see.
	ErrAccessDenied = errors.New("not allowed")
	// ErrNotFound is returned when a record id does not exist in the store.
	ErrNotFound = errors.New("record not found")
)

// ConfigurationError reports an unreachable or undefined source/field reference.
type ConfigurationError struct {
	Source string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Source != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (source %q, field %q)", ErrConfiguration, e.Reason, e.Source, e.Field)
	case e.Source != "":
		return fmt.Sprintf("%s: %s (source %q)", ErrConfiguration, e.Reason, e.Source)
	default:
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(source, field, reason string) error {
	return &ConfigurationError{Source: source, Field: field, Reason: reason}
}

// AccessDeniedError is returned by permission checks; it is distinct from an
// empty result.
type AccessDeniedError struct {
	Identity string
	Reason   string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("%s: entry %q: %s", ErrAccessDenied, e.Identity, e.Reason)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// NewAccessDenied builds an AccessDeniedError.
func NewAccessDenied(identity, reason string) error {
	return &AccessDeniedError{Identity: identity, Reason: reason}
}
