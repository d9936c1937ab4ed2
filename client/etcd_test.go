package client

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"score-render/adapter/adaptertest"
	"score-render/loadbalance"
	"score-render/middleware"
	"score-render/registry"
	"score-render/server"
)

// Client → etcd discovery → balancer → pool → worker host, end to end.
// Runs only when SCORE_RENDER_ETCD lists reachable endpoints.
func TestRenderThroughEtcd(t *testing.T) {
	env := os.Getenv("SCORE_RENDER_ETCD")
	if env == "" {
		t.Skip("SCORE_RENDER_ETCD not set; skipping etcd integration test")
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(env, ","), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	for i := 0; i < 2; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		svr := server.NewServer(adaptertest.Loader, server.WithVersion(adaptertest.Version), server.WithTTL(5))
		svr.Use(middleware.RecoveryMiddleware())
		go svr.ServeListener(l, "", reg)
		t.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	}
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), registry.ServiceName)
		return len(instances) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	c := newClient(t, reg, WithBalancer(&loadbalance.RoundRobinBalancer{}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 1; i <= 10; i++ {
		data := strings.Repeat("n", i)
		svg, err := c.RenderData(ctx, data, nil)
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, adaptertest.Markup(data, 1), svg)
	}
}
