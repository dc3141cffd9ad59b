package errors

import (
	"fmt"
)

// Uninitialized is returned when a request is sent before its channel exists.
func Uninitialized(target string) *AppError {
	return New(ErrCodeUninitialized,
		fmt.Sprintf("Failed to send request message to %s, it has not been initialized.", target))
}

// Disconnected is returned when the boundary is not currently connected.
func Disconnected(target string) *AppError {
	return New(ErrCodeDisconnected,
		fmt.Sprintf("Failed to send request message to %s, it is not connected.", target))
}

// OrphanResponse reports a response whose request id has no pending request.
func OrphanResponse(requestID int64) *AppError {
	return New(ErrCodeOrphanResponse, "Received a response to a non-existent request.").
		WithDetail("requestId", requestID)
}

// InvalidPayload is returned for requests of an unknown type.
func InvalidPayload() *AppError {
	return New(ErrCodeInvalidPayload, "Invalid Payload.")
}

// FatalProcess reports the unexpected death of the data process.
func FatalProcess(code *int, signal string) *AppError {
	codeStr := "null"
	if code != nil {
		codeStr = fmt.Sprintf("%d", *code)
	}
	if signal == "" {
		signal = "null"
	}
	return New(ErrCodeFatalProcess,
		fmt.Sprintf("Database Process Stopped Unexpectedly.\nThis is a Fatal Error.\nCode: %s\nSignal: %s", codeStr, signal)).
		WithDetail("code", codeStr).
		WithDetail("signal", signal)
}

// ConcurrentDatabase is returned when a load or save overlaps another one.
func ConcurrentDatabase(message string) *AppError {
	return New(ErrCodeConcurrentDatabase, message)
}

// InvalidDirectory is returned when a project directory cannot be selected.
func InvalidDirectory(message string) *AppError {
	return New(ErrCodeInvalidDirectory, message)
}

// LoadDatabase is returned when a load is refused or fails.
func LoadDatabase(message string) *AppError {
	return New(ErrCodeLoadDatabase, message)
}

// SaveDatabase is returned when a save fails.
func SaveDatabase(err error) *AppError {
	return Wrap(err, ErrCodeSaveDatabase, "An error occurred while saving the database.")
}

// InvalidArgument is returned for malformed request options.
func InvalidArgument(message string) *AppError {
	return New(ErrCodeInvalidArgument, message)
}

// CollectionNotFound is returned when a named collection does not exist.
func CollectionNotFound(message, collection string) *AppError {
	return New(ErrCodeCollectionNotFound, message).
		WithDetail("collection", collection)
}

// UnsupportedAction is returned for recognized but unimplemented actions.
func UnsupportedAction(action string) *AppError {
	return New(ErrCodeUnsupportedAction,
		"Attempted to perform result set actions with an action type that is not yet supported.").
		WithDetail("action", action)
}

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *AppError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *AppError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}
