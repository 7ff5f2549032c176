package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInUse indicates a delete blocked by dependent records.
	ErrInUse = errors.New("still referenced")
	// ErrForbidden indicates the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
	// ErrSessionMissing occurs when a guard needs a session and none was loaded.
	ErrSessionMissing = errors.New("session missing")
	// ErrUnknownRule is returned when a validation rule name is not registered.
	ErrUnknownRule = errors.New("unknown validation rule")
	// ErrUnknownFilter is returned when a filter spec references an unusable entry.
	ErrUnknownFilter = errors.New("unknown filter")
	// ErrInvalidPattern is returned when a glob pattern does not parse.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// ConfigError reports a programming or configuration mistake detected at
// registration time. It is never produced by user input.
type ConfigError struct {
	Component string
	Name      string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
