package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/grovetools/appshell/errors"
)

// Status is the data process status snapshot. Receivers only ever see copies.
type Status struct {
	Timestamp         int64    `json:"timestamp"`
	ProjectDirectory  *string  `json:"projectDirectory"`
	AvailableProducts []string `json:"availableProducts"`
	SelectedProduct   *string  `json:"selectedProduct"`
	IsLoading         bool     `json:"isLoading"`
	IsSaving          bool     `json:"isSaving"`
}

// Clone returns a deep copy.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}
	c := *s
	if s.ProjectDirectory != nil {
		dir := *s.ProjectDirectory
		c.ProjectDirectory = &dir
	}
	if s.SelectedProduct != nil {
		product := *s.SelectedProduct
		c.SelectedProduct = &product
	}
	c.AvailableProducts = append([]string{}, s.AvailableProducts...)
	return &c
}

// Time returns the snapshot timestamp.
func (s *Status) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Message is the union envelope for requests, responses and alerts.
type Message struct {
	Cmd       Command         `json:"cmd"`
	RequestID int64           `json:"requestId,omitempty"`
	Type      string          `json:"type,omitempty"`
	Error     bool            `json:"error"`
	Status    *Status         `json:"status,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a request envelope.
func NewRequest(id int64, requestType string, payload interface{}) (*Message, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Cmd: CmdRequest, RequestID: id, Type: requestType, Payload: raw}, nil
}

// NewResponse builds a successful response envelope.
func NewResponse(id int64, payload interface{}, status *Status) (*Message, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Cmd: CmdResponse, RequestID: id, Status: status, Payload: raw}, nil
}

// NewErrorResponse builds a failed response. The error is serialized so
// that its kind and message survive the boundary.
func NewErrorResponse(id int64, err error, status *Status) *Message {
	return &Message{
		Cmd:       CmdResponse,
		RequestID: id,
		Error:     true,
		Status:    status,
		Payload:   errors.MarshalPayload(err),
	}
}

// NewAlert builds an alert envelope. An error payload is serialized with
// errors.MarshalPayload when isError is true.
func NewAlert(alertType string, payload interface{}, isError bool, status *Status) (*Message, error) {
	var raw json.RawMessage
	if err, ok := payload.(error); ok && isError {
		raw = errors.MarshalPayload(err)
	} else {
		var encErr error
		if raw, encErr = encodePayload(payload); encErr != nil {
			return nil, encErr
		}
	}
	return &Message{Cmd: CmdAlert, Type: alertType, Error: isError, Status: status, Payload: raw}, nil
}

// Check enforces the per-command required fields that the envelope schema
// cannot express.
func (m *Message) Check() error {
	switch m.Cmd {
	case CmdRequest:
		if m.RequestID <= 0 {
			return fmt.Errorf("request requires a positive requestId")
		}
		if m.Type == "" {
			return fmt.Errorf("request requires a type")
		}
	case CmdResponse:
		// Any id is accepted; uncorrelatable ones are orphans for the
		// receiving channel to report.
	case CmdAlert:
		if m.Type == "" {
			return fmt.Errorf("alert requires a type")
		}
	default:
		return fmt.Errorf("unknown cmd %q", m.Cmd)
	}
	return nil
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Err restores the structured error carried by a failed response or an
// error alert. It returns nil when the message is not an error.
func (m *Message) Err() error {
	if !m.Error {
		return nil
	}
	return errors.Restore(m.Payload)
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
