package errors

import (
	stderrors "errors"
	"strings"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message
	Metadata map[string]string // Additional context for logs
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode returns the code of the first domain error in err's chain, or
// CodeUnknown.
func GetCode(err error) Code {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// GenericUserMessage is shown in place of errors whose code is not user
// facing.
const GenericUserMessage = "Something went wrong. Start a new run to try again."

// UserMessage renders err as text a learner can read to decide whether to
// start a new run. Only user-facing codes surface the error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	code := GetCode(err)
	if !code.UserFacing() {
		return GenericUserMessage
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = string(code)
	}
	switch code {
	case CodeOracleUnavailable:
		return "The scenario service is unavailable: " + message
	case CodeInvalidOracleResponse:
		return "The scenario service returned an unusable response: " + message
	default:
		return message
	}
}
