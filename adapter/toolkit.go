// Package adapter bridges the worker message protocol to a rendering toolkit.
//
// A Registry maps each message.Method to a typed Handler bound to one Toolkit
// instance. Handlers decode the call's positional arguments, forward them to the
// toolkit and pass the return value through unchanged.
package adapter

// Options are toolkit rendering options, keyed by their camelCase names
// (e.g. "scale", "pageWidth", "adjustPageHeight").
type Options map[string]any

// TimemapEntry is one entry of the timemap produced for playback highlighting.
type TimemapEntry map[string]any

// Toolkit is the capability surface of the notation rendering library. One
// instance is owned by one worker; implementations need not be goroutine-safe.
type Toolkit interface {
	GetVersion() (string, error)
	SetOptions(opts Options) error
	GetOptions() (Options, error)
	ResetOptions() error

	// LoadData keeps data as the current score for RenderToSVG, GetMEI, RenderToMIDI
	// and RenderToTimemap.
	LoadData(data string) (bool, error)
	// RenderData loads data with opts applied and returns the first page as SVG.
	RenderData(data string, opts Options) (string, error)
	RenderToSVG(page int) (string, error)
	GetMEI(opts Options) (string, error)
	// RenderToMIDI returns the loaded score as base64-encoded MIDI.
	RenderToMIDI() (string, error)
	RenderToTimemap(opts Options) ([]TimemapEntry, error)
}
