package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the platform response wrapper:
// {"success": bool, "message": string, "data": any, "error": any}.
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// DecodeEnvelope reports ok=false when body is not an envelope.
func DecodeEnvelope(body []byte) (Envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, false
	}
	if env.Success == nil && env.Message == "" && len(env.Data) == 0 && len(env.Error) == 0 {
		return Envelope{}, false
	}
	return env, true
}

func (e Envelope) Failed() bool {
	return e.Success != nil && !*e.Success
}

// ErrorText resolves the human readable failure: the error field when it is
// a string or carries a message, then the envelope message.
func (e Envelope) ErrorText() string {
	if len(e.Error) > 0 {
		var text string
		if err := json.Unmarshal(e.Error, &text); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Error, &detail); err == nil && strings.TrimSpace(detail.Message) != "" {
			return strings.TrimSpace(detail.Message)
		}
	}
	return strings.TrimSpace(e.Message)
}

// ErrorMessage extracts the message of a failed response, falling back to
// "Error Code: <status>".
func ErrorMessage(status int, body []byte) string {
	if env, ok := DecodeEnvelope(body); ok {
		if text := env.ErrorText(); text != "" {
			return text
		}
	}
	return fmt.Sprintf("Error Code: %d", status)
}
