package errors

import (
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if err carries an AppError anywhere in its
// chain, otherwise "UNKNOWN".
func GetCode(err error) string {
	for unwrapped := err; unwrapped != nil; {
		if appErr, ok := unwrapped.(*AppError); ok {
			return appErr.Code
		}
		u, ok := unwrapped.(interface{ Unwrap() error })
		if !ok {
			break
		}
		unwrapped = u.Unwrap()
	}
	return "UNKNOWN"
}

// IsCode reports whether err carries the given code
func IsCode(err error, code string) bool {
	return err != nil && GetCode(err) == code
}

// Predefined error codes
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeKindMismatch      = "KIND_MISMATCH"
	CodeMissingArtifact   = "MISSING_ARTIFACT"
	CodeShapeMismatch     = "SHAPE_MISMATCH"
	CodeCalibrationFailed = "CALIBRATION_FAILED"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

// KindMismatch signals a file path occupied by a folder, or vice versa.
func KindMismatch(path string) *AppError {
	return New(CodeKindMismatch, fmt.Sprintf("path %q exists with the wrong kind (file vs folder)", path))
}

// MissingArtifact signals an expected table or meta file absent during a load.
// The hint names the probable corrective action, e.g. a Create call.
func MissingArtifact(path, hint string) *AppError {
	msg := fmt.Sprintf("%s not found", path)
	if hint != "" {
		msg += ": " + hint
	}
	return New(CodeMissingArtifact, msg)
}

// ShapeMismatch signals a broadcast or table shape incompatibility.
func ShapeMismatch(message string) *AppError {
	return New(CodeShapeMismatch, message)
}

// CalibrationFailed signals a model optimization that did not converge.
func CalibrationFailed(model string, cause error) *AppError {
	return &AppError{
		Code:    CodeCalibrationFailed,
		Message: fmt.Sprintf("calibration of %s failed", model),
		Cause:   cause,
	}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}
