package codec

import (
	"encoding/json"
)

// JSONCodec is the default codec: the envelopes are already JSON-shaped, and the
// body is readable when a connection is captured for debugging.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
