package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultCompletionSignal is the suffix that marks an acknowledgment.
	DefaultCompletionSignal = "acknowledged"

	// HandshakeName is the unqualified name of the handshake exchange.
	HandshakeName = "handshake"
)

// Data is the payload carried by an envelope.
type Data map[string]any

// Envelope is the unit exchanged over the transport.
type Envelope struct {
	MessageName string `json:"messageName"`
	Data        Data   `json:"data,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// IsAcknowledgment reports whether the envelope answers a prior request
// under the given completion signal.
func (e Envelope) IsAcknowledgment(signal string) bool {
	return IsAckName(e.MessageName, signal)
}

// Encode serializes one envelope. Empty data and empty origin are omitted.
func Encode(messageName string, data Data, origin string) ([]byte, error) {
	if strings.TrimSpace(messageName) == "" {
		return nil, ErrMissingMessageName
	}
	if len(data) == 0 {
		data = nil
	}
	return json.Marshal(Envelope{
		MessageName: messageName,
		Data:        data,
		Origin:      origin,
	})
}

// Decode parses one raw envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(env.MessageName) == "" {
		return Envelope{}, fmt.Errorf("%w: missing messageName", ErrMalformedEnvelope)
	}
	return env, nil
}

// Qualify joins a prefix and a message name.
func Qualify(prefix, name string) string {
	return prefix + "." + name
}

// AckName returns the acknowledgment name answering messageName.
func AckName(messageName, signal string) string {
	return messageName + "." + signal
}

// IsAckName reports whether messageName ends in ".<signal>".
func IsAckName(messageName, signal string) bool {
	if signal == "" {
		return false
	}
	return strings.HasSuffix(messageName, "."+signal)
}
