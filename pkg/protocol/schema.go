package protocol

import (
	"sync"

	"github.com/grovetools/appshell/schema"
)

// envelope mirrors Message for schema reflection. Payload and status are
// left open: status may be null on alerts.
type envelope struct {
	Cmd       string      `json:"cmd" jsonschema:"description=REQUEST RESPONSE or ALERT"`
	RequestID int64       `json:"requestId,omitempty"`
	Type      string      `json:"type,omitempty"`
	Error     bool        `json:"error,omitempty"`
	Status    interface{} `json:"status,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

var (
	envelopeOnce      sync.Once
	envelopeValidator *schema.Validator
	envelopeErr       error
)

// GenerateSchema returns the JSON schema of the message envelope.
func GenerateSchema() ([]byte, error) {
	return schema.Reflect(&envelope{}, "json", true)
}

func validator() (*schema.Validator, error) {
	envelopeOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			envelopeErr = err
			return
		}
		envelopeValidator, envelopeErr = schema.NewValidator("envelope.json", data)
	})
	return envelopeValidator, envelopeErr
}
