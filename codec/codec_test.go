package codec

import (
	"encoding/json"
	"errors"
	"score-render/message"
	"testing"
)

func sampleCall() *message.Call {
	return &message.Call{
		Method: message.MethodRenderData,
		Idx:    2,
		Args:   []json.RawMessage{json.RawMessage(`"<mei/>"`), json.RawMessage(`{"scale":40}`)},
	}
}

func checkCall(t *testing.T, got, want *message.Call) {
	t.Helper()
	if got.Method != want.Method {
		t.Errorf("Method mismatch: got %s, want %s", got.Method, want.Method)
	}
	if got.Idx != want.Idx {
		t.Errorf("Idx mismatch: got %d, want %d", got.Idx, want.Idx)
	}
	if len(got.Args) != len(want.Args) {
		t.Fatalf("Args length mismatch: got %d, want %d", len(got.Args), len(want.Args))
	}
	for i := range want.Args {
		if string(got.Args[i]) != string(want.Args[i]) {
			t.Errorf("Args[%d] mismatch: got %s, want %s", i, got.Args[i], want.Args[i])
		}
	}
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}
	original := sampleCall()

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded message.Call
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	checkCall(t, &decoded, original)
}

func TestBinaryCodecCall(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	original := sampleCall()

	data, err := binaryCodec.Encode(original)
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decoded message.Call
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}
	checkCall(t, &decoded, original)
}

func TestBinaryCodecResult(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	original := message.Failure(&message.Call{Method: "noSuchMethod", Idx: 3}, errors.New("unsupported operation"))

	data, err := binaryCodec.Encode(original)
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decoded message.Result
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}
	if decoded.Method != "noSuchMethod" || decoded.Idx != 3 || decoded.Success {
		t.Fatalf("unexpected result %+v", decoded)
	}
	if string(decoded.Result) != string(original.Result) {
		t.Errorf("Result mismatch: got %s, want %s", decoded.Result, original.Result)
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	data, err := binaryCodec.Encode(sampleCall())
	if err != nil {
		t.Fatal(err)
	}

	var decoded message.Call
	if err := binaryCodec.Decode(data[:len(data)-3], &decoded); err == nil {
		t.Fatal("expected an error decoding a truncated body")
	}
}

func TestBinaryCodecRejectsOtherTypes(t *testing.T) {
	if _, err := (&BinaryCodec{}).Encode("plain string"); err == nil {
		t.Fatal("expected an error for a non-envelope value")
	}
}

func TestGetCodec(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary} {
		c, err := GetCodec(ct)
		if err != nil {
			t.Fatalf("GetCodec(%d): %v", ct, err)
		}
		if c.Type() != ct {
			t.Errorf("GetCodec(%d).Type() = %d", ct, c.Type())
		}
	}
	if _, err := GetCodec(7); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expect ErrUnknownCodec, got %v", err)
	}
	if ct, err := ParseType("binary"); err != nil || ct != CodecTypeBinary {
		t.Fatalf("ParseType(binary) = %d, %v", ct, err)
	}
}
