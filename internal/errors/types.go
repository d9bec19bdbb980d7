// Package errors defines the structured error type used across the image
// pipeline. Every failure the optimizer isolates (missing directories,
// unreadable listings, broken images) is wrapped in a PipelineError so the
// report and the logs can classify it without string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeEncode     ErrorType = "encode"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeDirNotFound   = "ERR_DIR_NOT_FOUND"
	ErrCodeDirRead       = "ERR_DIR_READ"
	ErrCodeDecode        = "ERR_DECODE"
	ErrCodeEncode        = "ERR_ENCODE"
	ErrCodeWrite         = "ERR_WRITE"
	ErrCodePanic         = "ERR_PANIC"
	ErrCodeConfigInvalid = "ERR_CONFIG_INVALID"
	ErrCodeInvalidPath   = "ERR_INVALID_PATH"
)

// PipelineError is a structured error type with context.
type PipelineError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file or directory the error is about.
func (e *PipelineError) WithPath(path string) *PipelineError {
	e.FilePath = path

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error. The optimizer treats these as skippable.
func NewIOError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewEncodeError creates an error for an image that could not be decoded,
// resized or encoded.
func NewEncodeError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeEncode,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// HasCode reports whether err is a PipelineError carrying code.
func HasCode(err error, code string) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}

	return false
}

// ErrInvalidPath creates a path validation error.
func ErrInvalidPath(path, reason string) *PipelineError {
	return NewValidationError(ErrCodeInvalidPath, "invalid path: "+reason).WithPath(path)
}

// ErrDirNotFound reports a configured directory that does not exist.
func ErrDirNotFound(dir string, cause error) *PipelineError {
	return NewIOError(ErrCodeDirNotFound, "directory does not exist", cause).WithPath(dir)
}
