package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies an application error for propagation decisions:
// validation errors and exhausted-retry generator errors are fatal to the
// caller, everything else degrades gracefully.
type ErrorType string

const (
	// ErrTypeValidation represents malformed request parameters; surfaced
	// immediately, never retried.
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeRateLimit represents an exhausted plan quota.
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeUpstreamTimeout represents a generator or enrichment provider
	// exceeding its deadline.
	ErrTypeUpstreamTimeout ErrorType = "upstream_timeout"
	// ErrTypeUpstream represents a generator or enrichment provider failure.
	ErrTypeUpstream ErrorType = "upstream"
	// ErrTypeCacheCorruption represents a stored payload that failed to
	// deserialize; treated as a miss and regenerated, never fatal.
	ErrTypeCacheCorruption ErrorType = "cache_corruption"
	// ErrTypeConfig represents configuration errors.
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors.
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors.
	ErrTypeInternal ErrorType = "internal"
)

// AppError is a structured application error.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`

	// ResetAt is set on rate-limit errors so clients can back off until the
	// window rolls over.
	ResetAt time.Time `json:"reset_at,omitempty"`

	// Permanent marks an error whose type would normally be retried as
	// final, such as an upstream provider rejecting the request outright.
	Permanent bool `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// AsPermanent marks the error as not worth retrying regardless of type.
func (e *AppError) AsPermanent() *AppError {
	e.Permanent = true
	return e
}

// WithContext adds context to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ValidationError creates a new validation error.
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// RateLimitError creates a new rate limit error carrying the instant the
// blocking window resets.
func RateLimitError(operation string, resetAt time.Time) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", operation),
		ResetAt: resetAt,
	}
}

// TimeoutError creates a new upstream timeout error.
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeUpstreamTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
		Cause:   cause,
	}
}

// UpstreamError creates a new upstream provider error.
func UpstreamError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeUpstream,
		Message: msg,
		Cause:   cause,
	}
}

// CorruptEntryError creates a cache corruption error for a stored payload
// that failed to deserialize.
func CorruptEntryError(key string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCacheCorruption,
		Message: fmt.Sprintf("corrupt cache payload for key %s", key),
		Cause:   cause,
	}
}

// ConfigError creates a new configuration error.
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// NotFoundError creates a new not found error.
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error.
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error (or anything it wraps) is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}

// Retryable reports whether the error is worth retrying: transient upstream
// failures and timeouts are, validation and quota rejections are not, and
// neither is anything marked permanent.
func Retryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	if appErr.Permanent {
		return false
	}
	switch appErr.Type {
	case ErrTypeUpstream, ErrTypeUpstreamTimeout:
		return true
	}
	return false
}
