package client

import (
	"context"

	"score-render/adapter"
	"score-render/message"
)

// invoker sends one call and decodes its value into reply.
type invoker func(ctx context.Context, method message.Method, reply any, args ...any) error

// Proxy exposes the toolkit operations as typed methods. Client and Session embed it.
type Proxy struct {
	invoke invoker
}

func (p Proxy) GetVersion(ctx context.Context) (string, error) {
	var v string
	err := p.invoke(ctx, message.MethodGetVersion, &v)
	return v, err
}

// SetOptions merges opts into the worker's options. On a Client the worker's
// options are reset once the call returns, so they only matter on a Session.
func (p Proxy) SetOptions(ctx context.Context, opts adapter.Options) error {
	return p.invoke(ctx, message.MethodSetOptions, nil, opts)
}

func (p Proxy) GetOptions(ctx context.Context) (adapter.Options, error) {
	opts := adapter.Options{}
	err := p.invoke(ctx, message.MethodGetOptions, &opts)
	return opts, err
}

func (p Proxy) ResetOptions(ctx context.Context) error {
	return p.invoke(ctx, message.MethodResetOptions, nil)
}

// LoadData loads a score into the worker's toolkit. Only meaningful on a Session,
// where later calls reach the same toolkit.
func (p Proxy) LoadData(ctx context.Context, data string) (bool, error) {
	var ok bool
	err := p.invoke(ctx, message.MethodLoadData, &ok, data)
	return ok, err
}

// RenderData loads data and renders its first page in one call. opts may be nil;
// on a Client they apply to this call only.
func (p Proxy) RenderData(ctx context.Context, data string, opts adapter.Options) (string, error) {
	var svg string
	var err error
	if opts == nil {
		err = p.invoke(ctx, message.MethodRenderData, &svg, data)
	} else {
		err = p.invoke(ctx, message.MethodRenderData, &svg, data, opts)
	}
	return svg, err
}

// RenderToSVG renders page (1-based) of the loaded score.
func (p Proxy) RenderToSVG(ctx context.Context, page int) (string, error) {
	var svg string
	err := p.invoke(ctx, message.MethodRenderToSVG, &svg, page)
	return svg, err
}

func (p Proxy) GetMEI(ctx context.Context, opts adapter.Options) (string, error) {
	var mei string
	err := p.invoke(ctx, message.MethodGetMEI, &mei, orEmpty(opts))
	return mei, err
}

// RenderToMIDI returns the loaded score as base64-encoded MIDI.
func (p Proxy) RenderToMIDI(ctx context.Context) (string, error) {
	var midi string
	err := p.invoke(ctx, message.MethodRenderToMIDI, &midi)
	return midi, err
}

func (p Proxy) RenderToTimemap(ctx context.Context, opts adapter.Options) ([]adapter.TimemapEntry, error) {
	var timemap []adapter.TimemapEntry
	err := p.invoke(ctx, message.MethodRenderToTimemap, &timemap, orEmpty(opts))
	return timemap, err
}

func orEmpty(opts adapter.Options) adapter.Options {
	if opts == nil {
		return adapter.Options{}
	}
	return opts
}
