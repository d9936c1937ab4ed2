package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"score-render/message"
)

var errShortBuffer = errors.New("BinaryCodec: truncated body")

// BinaryCodec lays envelopes out as length-prefixed fields. Argument and result
// values stay JSON; only the envelope framing around them is binary.
//
//	Call:   methodLen u16 | method | idx u32 | argc u16 | (argLen u32 | arg)*
//	Result: methodLen u16 | method | idx u32 | success u8 | resultLen u32 | result
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Call:
		total := 2 + len(msg.Method) + 4 + 2
		for _, arg := range msg.Args {
			total += 4 + len(arg)
		}
		buf := make([]byte, 0, total)
		buf = appendString(buf, string(msg.Method))
		buf = binary.BigEndian.AppendUint32(buf, msg.Idx)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Args)))
		for _, arg := range msg.Args {
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(arg)))
			buf = append(buf, arg...)
		}
		return buf, nil

	case *message.Result:
		buf := make([]byte, 0, 2+len(msg.Method)+4+1+4+len(msg.Result))
		buf = appendString(buf, string(msg.Method))
		buf = binary.BigEndian.AppendUint32(buf, msg.Idx)
		if msg.Success {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Result)))
		buf = append(buf, msg.Result...)
		return buf, nil
	}
	return nil, fmt.Errorf("BinaryCodec: unsupported type %T", v)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := &reader{data: data}
	switch msg := v.(type) {
	case *message.Call:
		msg.Method = message.Method(r.str())
		msg.Idx = r.u32()
		argc := int(r.u16())
		msg.Args = nil
		for i := 0; i < argc && r.err == nil; i++ {
			msg.Args = append(msg.Args, r.raw(int(r.u32())))
		}
		return r.err

	case *message.Result:
		msg.Method = message.Method(r.str())
		msg.Idx = r.u32()
		msg.Success = r.u8() == 1
		msg.Result = r.raw(int(r.u32()))
		return r.err
	}
	return fmt.Errorf("BinaryCodec: unsupported type %T", v)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader walks a body and remembers the first out-of-bounds read.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) str() string {
	return string(r.take(int(r.u16())))
}

func (r *reader) raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
