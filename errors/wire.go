package errors

import (
	"encoding/json"
	"strings"
)

// Payload is the serialized form of an error crossing a process boundary.
type Payload struct {
	Name    string                 `json:"name"`
	Kind    ErrorCode              `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToPayload serializes any error so that its kind and message can be restored
// on the receiving side. Causes are flattened into the message.
func ToPayload(err error) Payload {
	if err == nil {
		return Payload{Name: "Error", Kind: ErrCodeInternal}
	}
	if appErr, ok := As(err); ok {
		msg := appErr.Message
		if appErr.Cause != nil {
			msg += ": " + appErr.Cause.Error()
		}
		return Payload{
			Name:    appErr.Code.Name(),
			Kind:    appErr.Code,
			Message: msg,
			Details: appErr.Details,
		}
	}
	return Payload{Name: "Error", Kind: ErrCodeInternal, Message: err.Error()}
}

// MarshalPayload is ToPayload encoded as JSON.
func MarshalPayload(err error) json.RawMessage {
	data, _ := json.Marshal(ToPayload(err))
	return data
}

// FromPayload restores an AppError from a serialized payload.
func FromPayload(p Payload) *AppError {
	code := p.Kind
	if code == "" {
		code = codeForName(p.Name)
	}
	return &AppError{Code: code, Message: p.Message, Details: p.Details}
}

// Restore decodes a raw error payload. A payload whose declared name contains
// "Error" is restored as a structured error with its kind. Anything else
// becomes an internal error carrying the payload as its message.
func Restore(raw json.RawMessage) *AppError {
	var p Payload
	if err := json.Unmarshal(raw, &p); err == nil && strings.Contains(p.Name, "Error") {
		return FromPayload(p)
	}
	return New(ErrCodeInternal, plainMessage(raw))
}

// plainMessage extracts a human readable message from an arbitrary payload.
func plainMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "request failed"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func codeForName(name string) ErrorCode {
	for code, n := range names {
		if n == name {
			return code
		}
	}
	return ErrCodeInternal
}
