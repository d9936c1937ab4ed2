// Package protocol implements the binary frame protocol spoken between a render
// worker host and its callers.
//
// A fixed-size 14-byte header carries the idx used to correlate a result with its
// call, followed by a variable-length body. The receiver reads the header first to
// learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   idx   │ bodyLen │    body ...    │
//	│ srw  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "srw" (score render worker). Lets a host reject stray connections early.
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x77 // 'w'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (idx) + 4 (bodyLen)

	// MaxBodySize caps a single frame. Rendered multi-page SVG stays well below it.
	MaxBodySize uint32 = 64 << 20
)

// MsgType distinguishes the frames of the worker protocol.
type MsgType byte

const (
	MsgTypeCall      MsgType = 0 // Caller → worker: call envelope
	MsgTypeResult    MsgType = 1 // Worker → caller: result envelope
	MsgTypeReady     MsgType = 2 // Worker → caller: readiness, sent once per worker
	MsgTypeHeartbeat MsgType = 3 // Keepalive probe (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeCall:
		return "call"
	case MsgTypeResult:
		return "result"
	case MsgTypeReady:
		return "ready"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

// Codec type constants, mirrored from the codec package to avoid a circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Body serialization: 0=JSON, 1=Binary
	MsgType   MsgType // Call, Result, Ready or Heartbeat
	Idx       uint32  // Correlation id, echoed from call to result
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing a writer must serialize Encode calls, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodySize {
		return fmt.Errorf("frame body too large: %d bytes", len(body))
	}
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Idx)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One write per frame so a pipe peer never sees a half frame
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	idx := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Idx:       idx,
		BodyLen:   bodyLen,
	}, body, nil
}
