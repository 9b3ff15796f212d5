// Package protocol defines the textual wire format: one JSON envelope
// per frame, a string tag plus an object payload.
package protocol

import (
	"encoding/json"
	"errors"
)

// Envelope is the frame shape shared by both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var ErrMalformedFrame = errors.New("malformed frame")

// Decode parses an inbound text frame. A frame without a type tag is
// malformed even if it is valid JSON.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedFrame
	}
	if env.Type == "" {
		return nil, ErrMalformedFrame
	}
	return &env, nil
}

// Encode serializes an outbound frame. The returned byte slice is what
// byte accounting is charged on.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
