// Package message defines the envelopes exchanged between a render worker and its caller.
//
// A Call asks the worker to invoke one adapter operation; the worker answers every
// Call with exactly one Result carrying the same Idx. The readiness announcement is
// a Result whose Method is MethodReady and serializes as {"method":"ready"}.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Method identifies an operation exposed by the worker's adapter registry.
type Method string

const (
	MethodGetVersion      Method = "getVersion"
	MethodSetOptions      Method = "setOptions"
	MethodGetOptions      Method = "getOptions"
	MethodResetOptions    Method = "resetOptions"
	MethodLoadData        Method = "loadData"
	MethodRenderData      Method = "renderData"
	MethodRenderToSVG     Method = "renderToSVG"
	MethodGetMEI          Method = "getMEI"
	MethodRenderToMIDI    Method = "renderToMIDI"
	MethodRenderToTimemap Method = "renderToTimemap"

	// MethodReady is outbound only: the worker announces it once the library is loaded.
	MethodReady Method = "ready"
)

// Methods lists every callable operation in a stable order.
var Methods = []Method{
	MethodGetVersion,
	MethodSetOptions,
	MethodGetOptions,
	MethodResetOptions,
	MethodLoadData,
	MethodRenderData,
	MethodRenderToSVG,
	MethodGetMEI,
	MethodRenderToMIDI,
	MethodRenderToTimemap,
}

// Valid reports whether m is a callable operation. MethodReady is not.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

func (m Method) String() string {
	return string(m)
}

// Call is the request envelope.
//
//	{"method": "renderData", "idx": 2, "args": ["<mei ...>", {}]}
type Call struct {
	Method Method            `json:"method"`
	Idx    uint32            `json:"idx"`  // Caller-assigned correlation id, unique per outstanding call
	Args   []json.RawMessage `json:"args"` // Positional arguments, decoded by the adapter
}

// NewCall encodes args positionally into a Call.
func NewCall(method Method, idx uint32, args ...any) (*Call, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode arg %d of %s: %w", i, method, err)
		}
		raw = append(raw, data)
	}
	return &Call{Method: method, Idx: idx, Args: raw}, nil
}

// Result is the reply envelope.
//
//   - Success: Result holds the JSON-encoded return value.
//   - Failure: Result holds a JSON-encoded Fault.
type Result struct {
	Method  Method          `json:"method"`
	Idx     uint32          `json:"idx"`
	Result  json.RawMessage `json:"result"`
	Success bool            `json:"success"`
}

// NewReady returns the readiness envelope.
func NewReady() *Result {
	return &Result{Method: MethodReady}
}

// IsReady reports whether r is the readiness envelope.
func (r *Result) IsReady() bool {
	return r != nil && r.Method == MethodReady
}

// MarshalJSON drops every field but method from the readiness envelope.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.IsReady() {
		return json.Marshal(struct {
			Method Method `json:"method"`
		}{r.Method})
	}
	type plain Result
	return json.Marshal((*plain)(r))
}

// Success builds a successful reply to call.
func Success(call *Call, value any) (*Result, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode result of %s: %w", call.Method, err)
	}
	return &Result{Method: call.Method, Idx: call.Idx, Result: data, Success: true}, nil
}

// Failure builds a failed reply to call. err is converted with AsFault.
func Failure(call *Call, err error) *Result {
	data, mErr := json.Marshal(AsFault(err))
	if mErr != nil {
		// Fault only holds strings, so this cannot happen in practice
		data = []byte(`{"name":"InvocationError","message":"unencodable fault"}`)
	}
	return &Result{Method: call.Method, Idx: call.Idx, Result: data, Success: false}
}

// Fault decodes the error carried by a failed Result. It returns nil on success.
// A missing Result is an InvocationError.
func (r *Result) Fault() *Fault {
	if r == nil {
		return &Fault{Name: FaultInvocation, Message: "no result"}
	}
	if r.Success || r.IsReady() {
		return nil
	}
	var f Fault
	if err := json.Unmarshal(r.Result, &f); err != nil || f.Name == "" {
		return &Fault{Name: FaultInvocation, Message: string(r.Result)}
	}
	return &f
}

// Decode unmarshals a successful Result's value into v.
func (r *Result) Decode(v any) error {
	if f := r.Fault(); f != nil {
		return f
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Fault names. They double as the error taxonomy seen by callers.
const (
	FaultUnsupported = "UnsupportedOperation"
	FaultInvocation  = "InvocationError"
	FaultNotReady    = "NotReady"
	FaultBadArgs     = "BadArguments"
	FaultRateLimited = "RateLimited"
	FaultTimeout     = "Timeout"
	FaultTransport   = "TransportError"
)

// Fault is the error object carried in a failed Result.
type Fault struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (f *Fault) Error() string {
	return f.Name + ": " + f.Message
}

// Named errors that map onto a fault name implement this.
type namedFault interface {
	FaultName() string
}

// AsFault converts any error into a Fault. Errors (or wrapped errors) that know
// their fault name keep it; everything else is an InvocationError.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	var named namedFault
	if errors.As(err, &named) {
		return &Fault{Name: named.FaultName(), Message: err.Error()}
	}
	return &Fault{Name: FaultInvocation, Message: err.Error()}
}

// Kind is a sentinel error bound to a fault name.
type Kind struct {
	name string
	msg  string
}

// NewKind declares a sentinel error that converts to a Fault named name.
func NewKind(name, msg string) *Kind {
	return &Kind{name: name, msg: msg}
}

func (k *Kind) Error() string     { return k.msg }
func (k *Kind) FaultName() string { return k.name }
