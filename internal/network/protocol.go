package network

import "encoding/json"

// Message is the envelope for every client/server exchange. Type routes the
// message; Payload stays raw JSON so each layer decodes only what it owns.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MaxMessageSize caps a single inbound frame. Anything larger is treated as
// hostile and the connection is dropped.
const MaxMessageSize = 64 * 1024

// NewMessage marshals payload into a Message. Marshal errors are impossible
// for the engine's own event structs, so they surface as an empty payload.
func NewMessage(msgType string, payload any) Message {
	if payload == nil {
		return Message{Type: msgType}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{Type: msgType}
	}
	return Message{Type: msgType, Payload: raw}
}
