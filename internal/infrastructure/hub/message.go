package hub

import (
	"github.com/google/uuid"
)

// Message is one serialized event. Payload is computed once and the same bytes
// are handed to every connection; transports must not modify it.
type Message struct {
	ID      string
	Type    string
	Payload []byte
}

// NewMessage wraps an already encoded payload. msgType names the event kind and
// is used as the SSE event name; websocket clients only see Payload.
func NewMessage(msgType string, payload []byte) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Type:    msgType,
		Payload: payload,
	}
}
