// Package codec serializes envelope bodies carried inside protocol frames.
package codec

import "errors"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// ErrUnknownCodec is returned for a codec type byte nobody registered.
var ErrUnknownCodec = errors.New("codec: unknown codec type")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns the codec for codecType.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeBinary:
		return &BinaryCodec{}, nil
	}
	return nil, ErrUnknownCodec
}

// ParseType maps a config name ("json", "binary") to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, ErrUnknownCodec
}
