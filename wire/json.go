package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Header is the {name, messageId} pair that prefixes every JSON
// message's payload.
type Header struct {
	Name      string `json:"name"`
	MessageID string `json:"messageId"`
}

// Message is a single {header, payload} JSON message.
type Message struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage builds a Message with a freshly generated messageId,
// marshaling payload to JSON.
func NewMessage(name string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Header:  Header{Name: name, MessageID: uuid.NewString()},
		Payload: raw,
	}, nil
}

// ArrayEnvelope wraps a slice of Messages under a named JSON array key,
// e.g. {"directives":[...]} or {"events":[...]}.
type ArrayEnvelope struct {
	ArrayName string
	Messages  []*Message
}

// MarshalJSON implements json.Marshaler, producing {"<arrayName>":[...]}.
func (e *ArrayEnvelope) MarshalJSON() ([]byte, error) {
	m := map[string][]*Message{e.ArrayName: e.Messages}
	return json.Marshal(m)
}

// UnmarshalArray decodes a {"<arrayName>":[...]} envelope for the
// given array name.
func UnmarshalArray(arrayName string, buf []byte) ([]*Message, error) {
	var m map[string][]*Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	return m[arrayName], nil
}
