package adapter_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"score-render/adapter"
	"score-render/adapter/adaptertest"
	"score-render/message"
)

func call(t *testing.T, method message.Method, args ...any) *message.Call {
	t.Helper()
	c, err := message.NewCall(method, 1, args...)
	require.NoError(t, err)
	return c
}

func TestNewRegistersEveryMethod(t *testing.T) {
	reg, err := adapter.New(adaptertest.New())
	require.NoError(t, err)
	assert.Len(t, reg.Methods(), len(message.Methods))

	for _, m := range message.Methods {
		_, err := reg.Lookup(m)
		assert.NoError(t, err, m)
	}
}

func TestRegisterRejections(t *testing.T) {
	noop := adapter.Nullary(func() (any, error) { return nil, nil })

	reg := adapter.NewRegistry()
	assert.ErrorIs(t, reg.Register("noSuchMethod", noop), adapter.ErrUnsupportedOperation)
	assert.ErrorIs(t, reg.Register(message.MethodReady, noop), adapter.ErrUnsupportedOperation)

	require.NoError(t, reg.Register(message.MethodGetVersion, noop))
	assert.Error(t, reg.Register(message.MethodGetVersion, noop))

	reg.Seal()
	assert.ErrorIs(t, reg.Register(message.MethodGetMEI, noop), adapter.ErrSealed)
}

func TestInvokeRenderData(t *testing.T) {
	reg, err := adapter.New(adaptertest.New())
	require.NoError(t, err)

	out := reg.Invoke(call(t, message.MethodRenderData, "<score-data>", map[string]any{}))
	require.True(t, out.OK(), "%v", out.Err)

	var svg string
	require.NoError(t, json.Unmarshal(out.Value, &svg))
	assert.Equal(t, adaptertest.Markup("<score-data>", 1), svg)
}

func TestInvokeOptionalArgs(t *testing.T) {
	reg, err := adapter.New(adaptertest.New())
	require.NoError(t, err)

	// options may be omitted
	out := reg.Invoke(call(t, message.MethodRenderData, "<mei/>"))
	require.True(t, out.OK(), "%v", out.Err)

	// page defaults to 1
	out = reg.Invoke(call(t, message.MethodRenderToSVG))
	require.True(t, out.OK(), "%v", out.Err)
	var svg string
	require.NoError(t, json.Unmarshal(out.Value, &svg))
	assert.Equal(t, adaptertest.Markup("<mei/>", 1), svg)

	out = reg.Invoke(call(t, message.MethodRenderToSVG, 3))
	require.True(t, out.OK(), "%v", out.Err)
	assert.Contains(t, string(out.Value), `data-page=\"3\"`)
}

func TestInvokeFailures(t *testing.T) {
	reg, err := adapter.New(adaptertest.New())
	require.NoError(t, err)

	tests := []struct {
		name string
		call *message.Call
		want error
	}{
		{"unknown method", &message.Call{Method: "noSuchMethod", Idx: 3}, adapter.ErrUnsupportedOperation},
		{"missing required arg", call(t, message.MethodLoadData), adapter.ErrBadArguments},
		{"too many args", call(t, message.MethodGetVersion, "extra"), adapter.ErrBadArguments},
		{"wrong arg shape", call(t, message.MethodRenderToSVG, "one"), adapter.ErrBadArguments},
		{"library error", call(t, message.MethodLoadData, "BAD score"), adapter.ErrInvocation},
		{"library panic", call(t, message.MethodLoadData, "PANIC"), adapter.ErrInvocation},
		{"nothing loaded", call(t, message.MethodGetMEI), adapter.ErrInvocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := reg.Invoke(tt.call)
			require.False(t, out.OK())
			assert.True(t, errors.Is(out.Err, tt.want), "got %v", out.Err)
		})
	}
}

func TestSetAndResetOptions(t *testing.T) {
	reg, err := adapter.New(adaptertest.New())
	require.NoError(t, err)

	out := reg.Invoke(call(t, message.MethodSetOptions, adapter.Options{"scale": 40}))
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, "null", string(out.Value))

	out = reg.Invoke(call(t, message.MethodGetOptions))
	require.True(t, out.OK())
	assert.JSONEq(t, `{"scale":40}`, string(out.Value))

	require.True(t, reg.Invoke(call(t, message.MethodResetOptions)).OK())
	out = reg.Invoke(call(t, message.MethodGetOptions))
	assert.JSONEq(t, `{}`, string(out.Value))
}

func TestFailedRenderDataKeepsState(t *testing.T) {
	reg, err := adapter.New(adaptertest.New())
	require.NoError(t, err)

	require.True(t, reg.Invoke(call(t, message.MethodLoadData, "<mei>first</mei>")).OK())

	for _, data := range []string{"BAD score", "PANIC score"} {
		out := reg.Invoke(call(t, message.MethodRenderData, data, adapter.Options{"scale": 40}))
		require.False(t, out.OK(), data)

		out = reg.Invoke(call(t, message.MethodGetOptions))
		require.True(t, out.OK())
		assert.JSONEq(t, `{}`, string(out.Value), data)

		out = reg.Invoke(call(t, message.MethodGetMEI))
		require.True(t, out.OK())
		assert.Equal(t, `"<mei>first</mei>"`, string(out.Value), data)
	}
}
