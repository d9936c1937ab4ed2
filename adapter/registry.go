package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"score-render/message"
	"sort"
)

// Registry maps operation identifiers to handlers bound to one toolkit.
// It is filled once by New and sealed; lookups afterwards need no locking.
type Registry struct {
	handlers map[message.Method]Handler
	sealed   bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[message.Method]Handler)}
}

// New builds the sealed registry exposing every operation of tk.
func New(tk Toolkit) (*Registry, error) {
	r := NewRegistry()
	entries := []struct {
		method  message.Method
		handler Handler
	}{
		{message.MethodGetVersion, Nullary(tk.GetVersion)},
		{message.MethodSetOptions, Unary(1, func(o Options) (any, error) {
			return nil, tk.SetOptions(o)
		})},
		{message.MethodGetOptions, Nullary(tk.GetOptions)},
		{message.MethodResetOptions, Nullary(void(tk.ResetOptions))},
		{message.MethodLoadData, Unary(1, tk.LoadData)},
		{message.MethodRenderData, Binary(1, tk.RenderData)},
		{message.MethodRenderToSVG, Unary(0, func(page int) (string, error) {
			if page == 0 {
				page = 1
			}
			return tk.RenderToSVG(page)
		})},
		{message.MethodGetMEI, Unary(0, tk.GetMEI)},
		{message.MethodRenderToMIDI, Nullary(tk.RenderToMIDI)},
		{message.MethodRenderToTimemap, Unary(0, tk.RenderToTimemap)},
	}
	for _, e := range entries {
		if err := r.Register(e.method, e.handler); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

// Register binds h to m. Only enumerated, callable methods are accepted, each once.
func (r *Registry) Register(m message.Method, h Handler) error {
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrSealed, m)
	}
	if !m.Valid() {
		return fmt.Errorf("%w: %q is not a known operation", ErrUnsupportedOperation, m)
	}
	if h == nil {
		return fmt.Errorf("adapter: nil handler for %s", m)
	}
	if _, dup := r.handlers[m]; dup {
		return fmt.Errorf("adapter: %s registered twice", m)
	}
	r.handlers[m] = h
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}

// Lookup returns the handler for m or ErrUnsupportedOperation.
func (r *Registry) Lookup(m message.Method) (Handler, error) {
	h, ok := r.handlers[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperation, m)
	}
	return h, nil
}

// Methods lists the registered operations, sorted.
func (r *Registry) Methods() []message.Method {
	out := make([]message.Method, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Outcome is the explicit result of one invocation: either Value or Err is set.
type Outcome struct {
	Value json.RawMessage
	Err   error
}

// OK reports whether the invocation succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Invoke looks up and runs the handler for call. A toolkit panic is recovered
// into ErrInvocation so the worker keeps serving.
func (r *Registry) Invoke(call *message.Call) (out Outcome) {
	h, err := r.Lookup(call.Method)
	if err != nil {
		return Outcome{Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Err: fmt.Errorf("%w: %s panicked: %v", ErrInvocation, call.Method, p)}
		}
	}()

	value, err := h(call.Args)
	if err != nil {
		if message.AsFault(err).Name == message.FaultInvocation && !errors.Is(err, ErrInvocation) {
			err = fmt.Errorf("%w: %s: %v", ErrInvocation, call.Method, err)
		}
		return Outcome{Err: err}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: encode %s result: %v", ErrInvocation, call.Method, err)}
	}
	return Outcome{Value: data}
}
