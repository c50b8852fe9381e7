// Package wire defines the messages carried over an established data channel:
// one metadata control message at transfer start, binary chunks, and one
// complete control message after the send buffer has drained.
package wire

import "github.com/vmihailenco/msgpack/v5"

const (
	MessageTypeMetadata = "metadata"
	MessageTypeChunk    = "chunk"
	MessageTypeComplete = "complete"
)

// Message is the envelope for every data-channel frame.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// MetadataPayload announces the file a channel is about to carry.
type MetadataPayload struct {
	FileID string `msgpack:"fileId"`
	Name   string `msgpack:"name"`
	Size   int64  `msgpack:"size"`
	Type   string `msgpack:"type"`
}

// ChunkPayload is one fixed-size slice of file bytes. Offset is informational
// for the receiver's bookkeeping; ordered channel semantics make sequence
// numbers unnecessary.
type ChunkPayload struct {
	FileID string `msgpack:"fileId"`
	Offset int64  `msgpack:"offset"`
	Bytes  []byte `msgpack:"bytes"`
}

// CompletePayload marks end of transfer for a file.
type CompletePayload struct {
	FileID string `msgpack:"fileId"`
}

// NewMessage wraps a payload in the envelope.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// Encode marshals an envelope for the channel.
func Encode(msg Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// EncodeTyped wraps and marshals in one step.
func EncodeTyped(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return Encode(msg)
}

// Decode parses a raw channel frame into the envelope.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// DecodePayload decodes the envelope payload into v.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}
