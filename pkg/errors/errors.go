package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the category of a failure surfaced to the host.
type ErrorCode string

const (
	CodeConfigError            ErrorCode = "CONFIG_ERROR"
	CodeConfigValidationError  ErrorCode = "CONFIG_VALIDATION_ERROR"
	CodeSecretResolutionError  ErrorCode = "SECRET_RESOLUTION_ERROR"
	CodeProviderConfigError    ErrorCode = "PROVIDER_CONFIG_ERROR"
	CodeAuthFailed             ErrorCode = "AUTH_FAILED"
	CodeRequestFailed          ErrorCode = "REQUEST_FAILED"
	CodeStreamFailed           ErrorCode = "STREAM_FAILED"
	CodeStreamingParseError    ErrorCode = "STREAMING_PARSE_ERROR"
	CodeToolValidationError    ErrorCode = "TOOL_VALIDATION_ERROR"
	CodeToolExecutionError     ErrorCode = "TOOL_EXECUTION_ERROR"
	CodeTimeoutError           ErrorCode = "TIMEOUT_ERROR"
	CodeProviderError          ErrorCode = "PROVIDER_ERROR"
	CodeSessionError           ErrorCode = "SESSION_ERROR"
	CodeContinuationError      ErrorCode = "CONTINUATION_ERROR"
)

// AppError is the canonical error shape surfaced across command responses
// and event payloads. Code is part of the host-facing contract: never
// invent a new value outside the constants above.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from err, falling back to PROVIDER_ERROR for
// errors that never went through New/Wrap (e.g. raw driver errors).
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeProviderError
}

// retryableCodes carries the default retryability for each ErrorCode, per
// the adapter-boundary taxonomy: auth and config failures never retry,
// tool failures surface to the caller without a retry, and transport-ish
// failures (request/provider/timeout/stream/streaming-parse) do.
var retryableCodes = map[ErrorCode]bool{
	CodeConfigError:           false,
	CodeConfigValidationError: false,
	CodeSecretResolutionError: false,
	CodeProviderConfigError:   false,
	CodeAuthFailed:            false,
	CodeRequestFailed:         true,
	CodeStreamFailed:          true,
	CodeStreamingParseError:   true,
	CodeToolValidationError:   false,
	CodeToolExecutionError:    false,
	CodeTimeoutError:          true,
	CodeProviderError:         true,
	CodeSessionError:          false,
	CodeContinuationError:     false,
}

// Retryable reports whether code's default policy is to retry the call
// that produced it.
func Retryable(code ErrorCode) bool {
	return retryableCodes[code]
}

// IsRetryable is a convenience wrapper around Code + Retryable for a raw
// error value.
func IsRetryable(err error) bool {
	return Retryable(Code(err))
}
