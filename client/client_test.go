package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"score-render/adapter"
	"score-render/adapter/adaptertest"
	"score-render/codec"
	"score-render/logging"
	"score-render/message"
	"score-render/middleware"
	"score-render/registry"
	"score-render/server"
	"score-render/transport"
)

// startHosts runs n worker hosts and returns a registry listing them.
func startHosts(t testing.TB, n int, loader func(context.Context) (adapter.Toolkit, error)) *registry.MemoryRegistry {
	t.Helper()
	reg := registry.NewMemoryRegistry(registry.ServiceName)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		svr := server.NewServer(loader, server.WithVersion(adaptertest.Version))
		go svr.ServeListener(l, "", reg)
		t.Cleanup(func() { svr.Shutdown(2 * time.Second) })
	}
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), registry.ServiceName)
		return len(instances) == n
	}, 2*time.Second, 10*time.Millisecond)
	return reg
}

func newClient(t *testing.T, reg registry.Registry, opts ...Option) *Client {
	t.Helper()
	c := NewClient(reg, opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRenderData(t *testing.T) {
	c := newClient(t, startHosts(t, 1, adaptertest.Loader))
	ctx := context.Background()

	svg, err := c.RenderData(ctx, "<score-data>", adapter.Options{"scale": 40})
	require.NoError(t, err)
	assert.Equal(t, adaptertest.Markup("<score-data>", 1), svg)

	v, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, adaptertest.Version, v)
}

func TestClientBinaryCodecAcrossHosts(t *testing.T) {
	c := newClient(t, startHosts(t, 3, adaptertest.Loader), WithCodec(codec.CodecTypeBinary), WithPoolSize(2))

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svg, err := c.RenderData(context.Background(), "<mei/>", nil)
			assert.NoError(t, err)
			assert.Equal(t, adaptertest.Markup("<mei/>", 1), svg)
		}()
	}
	wg.Wait()
}

func TestClientRemoteErrors(t *testing.T) {
	c := newClient(t, startHosts(t, 1, adaptertest.Loader))
	ctx := context.Background()

	_, err := c.RenderData(ctx, "BAD score", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrInvocation)
	re, ok := IsRemote(err)
	require.True(t, ok)
	assert.Equal(t, message.MethodRenderData, re.Method)
	assert.Contains(t, re.Fault.Message, "cannot parse score")

	err = c.Call(ctx, "noSuchMethod", nil)
	assert.ErrorIs(t, err, adapter.ErrUnsupportedOperation)

	err = c.Call(ctx, message.MethodRenderToSVG, nil, "page one")
	assert.ErrorIs(t, err, adapter.ErrBadArguments)
}

func TestClientNoHosts(t *testing.T) {
	c := newClient(t, registry.NewMemoryRegistry(registry.ServiceName))

	_, err := c.GetVersion(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestClientRetriesNotReady(t *testing.T) {
	failing := func(ctx context.Context) (adapter.Toolkit, error) {
		return nil, errors.New("toolkit missing")
	}
	var attempts int
	count := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Result {
			attempts++
			return next(ctx, call)
		}
	}
	c := newClient(t, startHosts(t, 1, failing), WithReadyTimeout(20*time.Millisecond),
		WithMiddleware(middleware.RetryMiddleware(2, time.Millisecond, logging.Discard()), count))

	_, err := c.GetVersion(context.Background())
	assert.ErrorIs(t, err, adapter.ErrNotReady)
	assert.Equal(t, 3, attempts)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := func(ctx context.Context) (adapter.Toolkit, error) {
		<-release
		return adaptertest.New(), nil
	}
	c := newClient(t, startHosts(t, 1, slow), WithMiddleware(middleware.TimeOutMiddleware(100*time.Millisecond)))

	_, err := c.GetVersion(context.Background())
	assert.ErrorIs(t, err, middleware.ErrTimeout)
}

func TestClientCanceled(t *testing.T) {
	c := newClient(t, startHosts(t, 1, adaptertest.Loader))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetVersion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionKeepsState(t *testing.T) {
	c := newClient(t, startHosts(t, 3, adaptertest.Loader))
	ctx := context.Background()

	s, err := c.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.LoadData(ctx, "<mei>two pages</mei>")
	require.NoError(t, err)
	assert.True(t, ok)

	svg, err := s.RenderToSVG(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, adaptertest.Markup("<mei>two pages</mei>", 2), svg)

	mei, err := s.GetMEI(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "<mei>two pages</mei>", mei)

	midi, err := s.RenderToMIDI(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, midi)

	timemap, err := s.RenderToTimemap(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, timemap, 1)
}

func TestSessionAffinity(t *testing.T) {
	c := newClient(t, startHosts(t, 3, adaptertest.Loader))
	ctx := context.Background()

	first, err := c.Session(ctx, "session-abc")
	require.NoError(t, err)
	addr := first.Instance().Addr
	require.NoError(t, first.Close())

	again, err := c.Session(ctx, "session-abc")
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, addr, again.Instance().Addr)
	assert.Equal(t, "session-abc", again.Key())
}

func TestSessionOptionsResetOnClose(t *testing.T) {
	c := newClient(t, startHosts(t, 1, adaptertest.Loader), WithPoolSize(1))
	ctx := context.Background()

	s, err := c.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetOptions(ctx, adapter.Options{"pageWidth": 2100.0}))
	opts, err := s.GetOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2100.0, opts["pageWidth"])
	require.NoError(t, s.Close())

	// The pool holds one connection, so this reaches the same worker
	next, err := c.NewSession(ctx)
	require.NoError(t, err)
	defer next.Close()
	opts, err = next.GetOptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, opts)

	assert.ErrorIs(t, s.Call(ctx, message.MethodGetVersion, nil), transport.ErrClosed)
}

func TestClientOptionsDoNotOutliveTheCall(t *testing.T) {
	c := newClient(t, startHosts(t, 1, adaptertest.Loader), WithPoolSize(1))
	ctx := context.Background()

	svg, err := c.RenderData(ctx, "<a/>", adapter.Options{"scale": 40.0})
	require.NoError(t, err)
	assert.Equal(t, adaptertest.Markup("<a/>", 1), svg)

	// The pool holds one connection, so every call reaches the same worker
	opts, err := c.GetOptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, opts)

	require.NoError(t, c.SetOptions(ctx, adapter.Options{"pageWidth": 2100.0}))
	opts, err = c.GetOptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, opts)

	_, err = c.RenderData(ctx, "BAD", adapter.Options{"scale": 40.0})
	require.Error(t, err)
	opts, err = c.GetOptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestRemoteErrorIs(t *testing.T) {
	err := error(&RemoteError{Method: message.MethodLoadData, Fault: &message.Fault{Name: message.FaultNotReady, Message: "loading"}})
	assert.ErrorIs(t, err, adapter.ErrNotReady)
	assert.NotErrorIs(t, err, adapter.ErrInvocation)
	assert.Equal(t, "loadData: NotReady: loading", err.Error())
}
