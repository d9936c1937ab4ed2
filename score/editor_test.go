package score

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"score-render/adapter"
	"score-render/adapter/adaptertest"
	"score-render/client"
	"score-render/registry"
	"score-render/server"
)

type stubRenderer struct {
	calls []string
	err   error
}

func (r *stubRenderer) RenderData(ctx context.Context, data string, opts adapter.Options) (string, error) {
	r.calls = append(r.calls, data)
	if r.err != nil {
		return "", r.err
	}
	return "<svg>" + data + "</svg>", nil
}

func TestEditorRendersEveryScore(t *testing.T) {
	renderer := &stubRenderer{}
	editor := NewEditor(newSite(t), renderer, nil, nil)
	ctx := context.Background()

	view, err := editor.Open(ctx, "a.mei", strings.NewReader("<music/>"))
	require.NoError(t, err)
	assert.Equal(t, "<svg>"+view.MEI+"</svg>", view.Markup)
	assert.Empty(t, view.Console)

	view, err = editor.Apply(ctx, TransposeBy(2))
	require.NoError(t, err)
	assert.Contains(t, view.Markup, "<transposed by=2>")
	assert.Len(t, renderer.calls, 2)
}

func TestEditorConsoleMessages(t *testing.T) {
	renderer := &stubRenderer{}
	editor := NewEditor(newSite(t), renderer, nil, nil)
	ctx := context.Background()

	view, err := editor.Apply(ctx, Undo{})
	require.NoError(t, err)
	assert.Equal(t, View{Console: "No score to modify"}, view)

	view, err = editor.Apply(ctx, Transpose{Semitones: "up"})
	require.NoError(t, err)
	assert.Equal(t, `Invalid transpose (invalid semitones specified: "up")`, view.Console)
	assert.Empty(t, renderer.calls)
}

func TestEditorRenderFailure(t *testing.T) {
	boom := errors.New("worker gone")
	editor := NewEditor(newSite(t), &stubRenderer{err: boom}, nil, nil)

	view, err := editor.Open(context.Background(), "a.mei", strings.NewReader("<music/>"))
	assert.ErrorIs(t, err, boom)
	assert.NotEmpty(t, view.MEI)
	assert.Empty(t, view.Markup)
}

func TestEditorThroughWorkers(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	reg := registry.NewMemoryRegistry(registry.ServiceName)
	svr := server.NewServer(adaptertest.Loader, server.WithVersion(adaptertest.Version))
	go svr.ServeListener(l, "", reg)
	t.Cleanup(func() { svr.Shutdown(2 * time.Second) })
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), registry.ServiceName)
		return len(instances) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c := client.NewClient(reg)
	defer c.Close()

	site := newSite(t)
	session, err := c.Session(context.Background(), site.SessionID())
	require.NoError(t, err)
	defer session.Close()

	editor := NewEditor(site, session, adapter.Options{"scale": 40.0}, nil)
	view, err := editor.Open(context.Background(), "song.mei", strings.NewReader("<music/>"))
	require.NoError(t, err)
	assert.Equal(t, adaptertest.Markup(view.MEI, 1), view.Markup)
}
