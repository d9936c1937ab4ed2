package score

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"score-render/adapter"
	"score-render/logging"
)

// Renderer turns a serialized score into markup. client.Client and
// client.Session implement it.
type Renderer interface {
	RenderData(ctx context.Context, data string, opts adapter.Options) (string, error)
}

// View is what the editor shows after an action: the score, its rendering, and
// any message for the console.
type View struct {
	MEI     string
	Markup  string
	Console string
}

// Editor edits a score on the site and renders every version the site returns.
type Editor struct {
	site     *Site
	renderer Renderer
	options  adapter.Options
	logger   *log.Logger
}

// NewEditor combines a site session with a renderer. options are passed to every
// render and may be nil.
func NewEditor(site *Site, renderer Renderer, options adapter.Options, logger *log.Logger) *Editor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Editor{site: site, renderer: renderer, options: options, logger: logger}
}

// Open uploads a score and renders it.
func (e *Editor) Open(ctx context.Context, filename string, r io.Reader) (View, error) {
	mei, err := e.site.Upload(ctx, filename, r)
	return e.view(ctx, mei, err)
}

// Apply runs an editing command and renders the result.
func (e *Editor) Apply(ctx context.Context, cmd Command) (View, error) {
	mei, err := e.site.Command(ctx, cmd)
	return e.view(ctx, mei, err)
}

// view renders mei. Rejected commands and site errors are shown on the console
// rather than returned: the session's score is unchanged and editing can go on.
func (e *Editor) view(ctx context.Context, mei string, err error) (View, error) {
	var siteErr *SiteError
	var cmdErr *CommandError
	switch {
	case errors.As(err, &siteErr):
		return View{Console: siteErr.Message}, nil
	case errors.As(err, &cmdErr):
		return View{Console: cmdErr.Message}, nil
	case err != nil:
		return View{}, err
	case mei == "":
		return View{}, nil
	}

	markup, err := e.renderer.RenderData(ctx, mei, e.options)
	if err != nil {
		e.logger.Error("render failed", "error", err)
		return View{MEI: mei}, err
	}
	return View{MEI: mei, Markup: markup}, nil
}
