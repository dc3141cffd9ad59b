package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition. It is the kind discriminator
// that survives serialization across a process boundary.
type ErrorCode string

const (
	// Transport errors
	ErrCodeUninitialized  ErrorCode = "UNINITIALIZED"
	ErrCodeDisconnected   ErrorCode = "DISCONNECTED"
	ErrCodeOrphanResponse ErrorCode = "ORPHAN_RESPONSE"
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrCodeFatalProcess   ErrorCode = "FATAL_PROCESS"

	// Database lifecycle errors
	ErrCodeConcurrentDatabase ErrorCode = "CONCURRENT_DATABASE"
	ErrCodeInvalidDirectory   ErrorCode = "INVALID_DIRECTORY"
	ErrCodeLoadDatabase       ErrorCode = "LOAD_DATABASE"
	ErrCodeSaveDatabase       ErrorCode = "SAVE_DATABASE"

	// Content errors
	ErrCodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	ErrCodeCollectionNotFound ErrorCode = "COLLECTION_NOT_FOUND"
	ErrCodeUnsupportedAction  ErrorCode = "UNSUPPORTED_ACTION"

	// Application errors
	ErrCodeUpdate         ErrorCode = "UPDATE"
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// General errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// names maps each code to the class name used on the wire. Receivers sniff
// the "Error" suffix to decide whether a payload is a structured error.
var names = map[ErrorCode]string{
	ErrCodeUninitialized:      "UninitializedError",
	ErrCodeDisconnected:       "DisconnectedError",
	ErrCodeOrphanResponse:     "OrphanResponseError",
	ErrCodeInvalidPayload:     "InvalidPayloadError",
	ErrCodeFatalProcess:       "FatalProcessError",
	ErrCodeConcurrentDatabase: "ConcurrentDatabaseError",
	ErrCodeInvalidDirectory:   "InvalidDirectoryError",
	ErrCodeLoadDatabase:       "LoadDatabaseError",
	ErrCodeSaveDatabase:       "SaveDatabaseError",
	ErrCodeInvalidArgument:    "InvalidArgumentError",
	ErrCodeCollectionNotFound: "CollectionNotFoundError",
	ErrCodeUnsupportedAction:  "UnsupportedActionError",
	ErrCodeUpdate:             "UpdateError",
	ErrCodeConfigNotFound:     "ConfigNotFoundError",
	ErrCodeConfigInvalid:      "ConfigInvalidError",
	ErrCodeInternal:           "Error",
}

// Name returns the wire class name for a code.
func (c ErrorCode) Name() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "Error"
}

// AppError represents a structured error with context
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets the standard errors.Is match two AppErrors by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *AppError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific AppError code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	return appErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return appErr.Code
}

// As returns the first AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
