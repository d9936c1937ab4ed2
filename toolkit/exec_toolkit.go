// Package toolkit binds the rendering library: ExecToolkit drives a
// Verovio-compatible command-line binary, one process per operation.
//
// Toolkit state (options and the loaded score) lives in the ExecToolkit value,
// so each worker owns its own. Scores travel on stdin, renderings come back on
// stdout.
package toolkit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"

	"score-render/adapter"
	"score-render/logging"
)

// maxStderrBytes caps the stderr quoted in errors.
const maxStderrBytes = 4 * 1024

// ErrNoData is returned by operations that need a loaded score.
var ErrNoData = errors.New("toolkit: no score loaded")

// ExecToolkit implements adapter.Toolkit on top of an external binary.
type ExecToolkit struct {
	binary       string
	resourcePath string
	timeout      time.Duration
	options      adapter.Options
	data         string
	version      string
	logger       *log.Logger
}

// Option configures an ExecToolkit.
type Option func(*ExecToolkit)

// WithTimeout bounds each process run.
func WithTimeout(d time.Duration) Option {
	return func(t *ExecToolkit) { t.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *ExecToolkit) { t.logger = l }
}

// New probes binary and returns a toolkit bound to it. resourcePath may be empty.
func New(ctx context.Context, binary, resourcePath string, opts ...Option) (*ExecToolkit, error) {
	t := &ExecToolkit{
		binary:       binary,
		resourcePath: resourcePath,
		timeout:      30 * time.Second,
		options:      adapter.Options{},
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}

	out, err := t.run(ctx, []string{"--version"}, "")
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", binary, err)
	}
	t.version = parseVersion(out)
	t.logger.Debug("toolkit probed", "binary", binary, "version", t.version)
	return t, nil
}

// Loader returns the worker bootstrap for binary: each call probes a fresh toolkit.
func Loader(binary, resourcePath string, opts ...Option) func(ctx context.Context) (adapter.Toolkit, error) {
	return func(ctx context.Context) (adapter.Toolkit, error) {
		return New(ctx, binary, resourcePath, opts...)
	}
}

func parseVersion(out []byte) string {
	v := strings.TrimSpace(string(out))
	if i := strings.IndexByte(v, '\n'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(strings.TrimPrefix(v, "Verovio"))
}

func (t *ExecToolkit) GetVersion() (string, error) {
	return t.version, nil
}

func (t *ExecToolkit) SetOptions(opts adapter.Options) error {
	for k, v := range opts {
		t.options[k] = v
	}
	return nil
}

func (t *ExecToolkit) GetOptions() (adapter.Options, error) {
	out := make(adapter.Options, len(t.options))
	for k, v := range t.options {
		out[k] = v
	}
	return out, nil
}

func (t *ExecToolkit) ResetOptions() error {
	t.options = adapter.Options{}
	return nil
}

// LoadData checks that the binary accepts data and keeps it for later renders.
func (t *ExecToolkit) LoadData(data string) (bool, error) {
	if strings.TrimSpace(data) == "" {
		return false, ErrNoData
	}
	if _, err := t.render("mei", data, nil, nil); err != nil {
		return false, err
	}
	t.data = data
	return true, nil
}

// RenderData applies opts, loads data and renders the first page. On failure
// the options and loaded data are left as they were.
func (t *ExecToolkit) RenderData(data string, opts adapter.Options) (svg string, err error) {
	prevOptions, prevData := t.options, t.data
	defer func() {
		if err != nil {
			t.options, t.data = prevOptions, prevData
		}
	}()

	t.options, _ = t.GetOptions()
	if err := t.SetOptions(opts); err != nil {
		return "", err
	}
	if _, err := t.LoadData(data); err != nil {
		return "", err
	}
	return t.RenderToSVG(1)
}

func (t *ExecToolkit) RenderToSVG(page int) (string, error) {
	if t.data == "" {
		return "", ErrNoData
	}
	out, err := t.render("svg", t.data, nil, []string{"--page=" + strconv.Itoa(page)})
	return string(out), err
}

func (t *ExecToolkit) GetMEI(opts adapter.Options) (string, error) {
	if t.data == "" {
		return "", ErrNoData
	}
	out, err := t.render("mei", t.data, opts, nil)
	return string(out), err
}

// RenderToMIDI returns base64-encoded MIDI, like the library's own binding.
func (t *ExecToolkit) RenderToMIDI() (string, error) {
	if t.data == "" {
		return "", ErrNoData
	}
	out, err := t.render("midi", t.data, nil, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (t *ExecToolkit) RenderToTimemap(opts adapter.Options) ([]adapter.TimemapEntry, error) {
	if t.data == "" {
		return nil, ErrNoData
	}
	out, err := t.render("timemap", t.data, opts, nil)
	if err != nil {
		return nil, err
	}
	var timemap []adapter.TimemapEntry
	if err := json.Unmarshal(out, &timemap); err != nil {
		return nil, fmt.Errorf("toolkit: timemap output: %w", err)
	}
	return timemap, nil
}

// render runs one conversion of data to outputType with the toolkit options,
// call-scoped extra options, and extra raw flags.
func (t *ExecToolkit) render(outputType, data string, extra adapter.Options, flags []string) ([]byte, error) {
	args := []string{"-t", outputType, "-o", "-"}
	if t.resourcePath != "" {
		args = append(args, "-r", t.resourcePath)
	}
	merged := make(adapter.Options, len(t.options)+len(extra))
	for k, v := range t.options {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	args = append(args, Flags(merged)...)
	args = append(args, flags...)
	args = append(args, "-")

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.run(ctx, args, data)
}

func (t *ExecToolkit) run(ctx context.Context, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	t.logger.Debug("toolkit run", "args", args, "duration", time.Since(start), "error", err)
	if err != nil {
		msg := strings.TrimSpace(truncate(stderr.String()))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("toolkit: %s (exit %d)", msg, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("toolkit: %w", err)
	}
	return stdout.Bytes(), nil
}

func truncate(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

// Flags turns options into command-line flags, sorted by name: pageWidth: 2100
// becomes --page-width=2100, true becomes a bare --flag, false is dropped.
func Flags(opts adapter.Options) []string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flags := make([]string, 0, len(keys))
	for _, k := range keys {
		name := "--" + kebab(k)
		switch v := opts[k].(type) {
		case nil:
		case bool:
			if v {
				flags = append(flags, name)
			}
		case float64:
			flags = append(flags, name+"="+strconv.FormatFloat(v, 'f', -1, 64))
		case string:
			flags = append(flags, name+"="+v)
		default:
			flags = append(flags, fmt.Sprintf("%s=%v", name, v))
		}
	}
	return flags
}

func kebab(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
