package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// TransportFailed indicates the submissions API could not be reached or
	// kept failing after every retry
	TransportFailed ErrorCode = "TRANSPORT_FAILED"
	// Unauthorized indicates the API rejected the key (HTTP 403 or a
	// "not authorized" message body)
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// MalformedResponse indicates a body that is not JSON or not an object
	MalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	// UnrecognizedShape indicates a document with no submissions in any known layout
	UnrecognizedShape ErrorCode = "UNRECOGNIZED_SHAPE"
	// ConfigInvalid indicates a missing or invalid configuration value
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// OutputFailed indicates the CSV could not be written
	OutputFailed ErrorCode = "OUTPUT_FAILED"
	// CacheFailed indicates the local page cache or run history is unusable
	CacheFailed ErrorCode = "CACHE_FAILED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// SetEnv suggests setting an environment variable
	SetEnv FixActionType = "set-env"
	// EditConfig suggests editing the config file
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Variable    string        `json:"variable,omitempty"`
	Description string        `json:"description,omitempty"`
}

// GrantError is an error with a stable code and suggested fixes.
type GrantError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a GrantError carrying the default fixes for code.
func New(code ErrorCode, message string, cause error) *GrantError {
	return &GrantError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *GrantError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *GrantError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GrantError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *GrantError) WithDetails(details interface{}) *GrantError {
	e.Details = details
	return e
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	Unauthorized: {
		{
			Type:        SetEnv,
			Variable:    "GRANTCSV_API_KEY",
			Description: "Check the API key is current and has access to this scheme",
		},
	},
	TransportFailed: {
		{
			Type:        EditConfig,
			Description: "Check api.baseUrl and network access, or raise fetch.maxAttempts",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "grantcsv config show",
			Description: "Inspect the effective configuration",
		},
	},
	CacheFailed: {
		{
			Type:        RunCommand,
			Command:     "grantcsv cache clear",
			Description: "Reset the local page cache",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}

// CodeOf returns the code of the first GrantError in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var ge *GrantError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return InternalError
}

// IsRetryable reports whether another attempt at the same request could
// succeed. Every transport and response failure is retried, matching the
// exporter's fixed attempt budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ConfigInvalid, OutputFailed, UnrecognizedShape:
		return false
	default:
		return true
	}
}
