// Package adaptertest provides an in-memory Toolkit for tests.
package adaptertest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"score-render/adapter"
)

// Version is what Fake.GetVersion reports.
const Version = "4.3.1-fake"

// ErrEmptyScore mirrors the library rejecting empty input.
var ErrEmptyScore = errors.New("empty score data")

// Fake renders any non-empty score to a deterministic SVG string. Data containing
// "PANIC" makes it panic, data containing "BAD" makes it return an error.
type Fake struct {
	options adapter.Options
	data    string
	calls   atomic.Int64
}

// New returns a Fake with default options.
func New() *Fake {
	return &Fake{options: adapter.Options{}}
}

// Loader hands every worker a fresh Fake.
func Loader(ctx context.Context) (adapter.Toolkit, error) {
	return New(), nil
}

// Calls returns how many toolkit operations ran.
func (f *Fake) Calls() int64 {
	return f.calls.Load()
}

func (f *Fake) GetVersion() (string, error) {
	f.calls.Add(1)
	return Version, nil
}

func (f *Fake) SetOptions(opts adapter.Options) error {
	f.calls.Add(1)
	for k, v := range opts {
		f.options[k] = v
	}
	return nil
}

func (f *Fake) GetOptions() (adapter.Options, error) {
	f.calls.Add(1)
	out := adapter.Options{}
	for k, v := range f.options {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) ResetOptions() error {
	f.calls.Add(1)
	f.options = adapter.Options{}
	return nil
}

func (f *Fake) LoadData(data string) (bool, error) {
	f.calls.Add(1)
	if err := check(data); err != nil {
		return false, err
	}
	f.data = data
	return true, nil
}

// RenderData leaves options and data untouched when it fails or panics.
func (f *Fake) RenderData(data string, opts adapter.Options) (svg string, err error) {
	prevOptions, prevData := f.options, f.data
	restore := func() { f.options, f.data = prevOptions, prevData }
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
		if err != nil {
			restore()
		}
	}()

	f.options, _ = f.GetOptions()
	if err := f.SetOptions(opts); err != nil {
		return "", err
	}
	if _, err := f.LoadData(data); err != nil {
		return "", err
	}
	return f.RenderToSVG(1)
}

func (f *Fake) RenderToSVG(page int) (string, error) {
	f.calls.Add(1)
	if f.data == "" {
		return "", ErrEmptyScore
	}
	return Markup(f.data, page), nil
}

func (f *Fake) GetMEI(adapter.Options) (string, error) {
	f.calls.Add(1)
	if f.data == "" {
		return "", ErrEmptyScore
	}
	return f.data, nil
}

func (f *Fake) RenderToMIDI() (string, error) {
	f.calls.Add(1)
	if f.data == "" {
		return "", ErrEmptyScore
	}
	return base64.StdEncoding.EncodeToString([]byte("MThd" + f.data)), nil
}

func (f *Fake) RenderToTimemap(adapter.Options) ([]adapter.TimemapEntry, error) {
	f.calls.Add(1)
	if f.data == "" {
		return nil, ErrEmptyScore
	}
	return []adapter.TimemapEntry{{"tstamp": 0.0, "on": []any{"n1"}}}, nil
}

// Markup is the SVG Fake produces for data on page.
func Markup(data string, page int) string {
	return fmt.Sprintf(`<svg data-page="%d" data-len="%d"/>`, page, len(data))
}

func check(data string) error {
	switch {
	case data == "":
		return ErrEmptyScore
	case strings.Contains(data, "PANIC"):
		panic("toolkit crashed on " + data)
	case strings.Contains(data, "BAD"):
		return fmt.Errorf("cannot parse score: %q", data)
	}
	return nil
}
