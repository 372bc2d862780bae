// Package errors provides the structured error type (PulpManagerError) used
// across pulp-manager for category-based classification and retry semantics.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a pulp-manager error for classification
type ErrorCategory string

const (
	// Lookup and state errors
	CategoryNotFound     ErrorCategory = "not_found"
	CategoryInvalidState ErrorCategory = "invalid_state"

	// User-facing input errors
	CategoryInvalidArgument  ErrorCategory = "invalid_argument"
	CategoryFilter           ErrorCategory = "filter"
	CategoryPageSizeTooLarge ErrorCategory = "page_size_too_large"

	// External system integration errors
	CategoryUpstream                ErrorCategory = "upstream"
	CategoryExternalResourceMissing ErrorCategory = "external_resource_missing"
	CategoryNetwork                 ErrorCategory = "network"
	CategoryGit                     ErrorCategory = "git"
	CategoryVault                   ErrorCategory = "vault"

	// Storage and infrastructure errors
	CategoryIntegrity ErrorCategory = "integrity"
	CategoryStorage   ErrorCategory = "storage"
	CategoryQueue     ErrorCategory = "queue"
	CategoryConfig    ErrorCategory = "config"
	CategoryInternal  ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// PulpManagerError is a structured error with category, retryability, and context
type PulpManagerError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PulpManagerError
type ContextFields map[string]any

// Error implements the error interface
func (e *PulpManagerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PulpManagerError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PulpManagerError) WithContext(key string, value any) *PulpManagerError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PulpManagerError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PulpManagerError {
	return &PulpManagerError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new PulpManagerError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PulpManagerError {
	return &PulpManagerError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable PulpManagerError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *PulpManagerError {
	return &PulpManagerError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable PulpManagerError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PulpManagerError {
	return &PulpManagerError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if pme, ok := err.(*PulpManagerError); ok {
		return pme.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if pme, ok := err.(*PulpManagerError); ok {
		return pme.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal
// if not a PulpManagerError
func GetCategory(err error) ErrorCategory {
	if pme, ok := err.(*PulpManagerError); ok {
		return pme.Category
	}
	return CategoryInternal
}
