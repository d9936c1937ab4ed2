package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestReadyEnvelopeShape(t *testing.T) {
	data, err := json.Marshal(NewReady())
	if err != nil {
		t.Fatalf("Failed to marshal ready: %v", err)
	}
	if string(data) != `{"method":"ready"}` {
		t.Fatalf("ready envelope = %s", data)
	}
}

func TestCallEnvelope(t *testing.T) {
	call, err := NewCall(MethodRenderData, 2, "<mei/>", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"method":"renderData","idx":2,"args":["<mei/>",{}]}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestSuccessAndFailureEchoCall(t *testing.T) {
	call := &Call{Method: MethodGetVersion, Idx: 7}

	ok, err := Success(call, "4.3.1")
	if err != nil {
		t.Fatal(err)
	}
	if ok.Method != call.Method || ok.Idx != call.Idx || !ok.Success {
		t.Fatalf("unexpected success envelope: %+v", ok)
	}
	var version string
	if err := ok.Decode(&version); err != nil || version != "4.3.1" {
		t.Fatalf("Decode = %q, %v", version, err)
	}

	bad := Failure(call, errors.New("boom"))
	if bad.Method != call.Method || bad.Idx != call.Idx || bad.Success {
		t.Fatalf("unexpected failure envelope: %+v", bad)
	}
	f := bad.Fault()
	if f == nil || f.Name != FaultInvocation || f.Message != "boom" {
		t.Fatalf("unexpected fault: %+v", f)
	}
	if err := bad.Decode(&version); err == nil {
		t.Fatal("expected Decode to return the fault")
	}
}

func TestAsFaultKeepsKind(t *testing.T) {
	notReady := NewKind(FaultNotReady, "worker not ready")
	wrapped := fmt.Errorf("%w: toolkit still loading", notReady)

	f := AsFault(wrapped)
	if f.Name != FaultNotReady {
		t.Fatalf("expect %s, got %s", FaultNotReady, f.Name)
	}
	if f.Message != "worker not ready: toolkit still loading" {
		t.Fatalf("unexpected message %q", f.Message)
	}
	if AsFault(nil) != nil {
		t.Fatal("AsFault(nil) should be nil")
	}
}

func TestMethodValid(t *testing.T) {
	for _, m := range Methods {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if MethodReady.Valid() {
		t.Error("ready must not be callable")
	}
	if Method("noSuchMethod").Valid() {
		t.Error("unknown method reported valid")
	}
}

func TestNilResultIsAFault(t *testing.T) {
	var r *Result
	if r.IsReady() {
		t.Fatal("nil result must not be the readiness envelope")
	}
	f := r.Fault()
	if f == nil || f.Name != FaultInvocation {
		t.Fatalf("expect %s, got %+v", FaultInvocation, f)
	}
	if err := r.Decode(new(string)); err == nil {
		t.Fatal("decoding a nil result must fail")
	}
}
