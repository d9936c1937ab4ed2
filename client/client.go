// Package client is the typed caller-side proxy to render workers.
//
//	Client.RenderData ─► middleware (logging, retry, timeout) ─► discover ─► balancer.Pick
//	  ─► TransportPool.Get ─► Ready ─► ClientTransport.Invoke ─► decode / RemoteError
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"score-render/codec"
	"score-render/loadbalance"
	"score-render/logging"
	"score-render/message"
	"score-render/middleware"
	"score-render/registry"
	"score-render/transport"
)

type Client struct {
	Proxy

	registry    registry.Registry // where worker hosts are found
	balancer    loadbalance.Balancer
	affinity    *loadbalance.ConsistentHashBalancer // pins sessions to hosts
	pools       map[string]*transport.TransportPool // one pool per host address
	codecType   codec.CodecType
	mu          sync.Mutex
	poolSize    int
	dialTimeout time.Duration
	heartbeat   time.Duration
	readyWait   time.Duration
	middlewares []middleware.Middleware
	sessionMws  []middleware.Middleware
	handler     middleware.HandlerFunc
	logger      *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCodec selects the body codec used on every connection.
func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithBalancer sets the strategy for one-shot calls.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

// WithPoolSize bounds the connections (and so the workers) per host.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

// WithDialTimeout bounds connecting to a host.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithHeartbeat sets the keepalive interval of pooled connections.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithReadyTimeout bounds how long a fresh connection waits for its worker's
// readiness frame. Past it the call is sent anyway and the worker answers
// NotReady, which carries the reason its toolkit failed to load.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Client) { c.readyWait = d }
}

// WithMiddleware wraps every call, in the given order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// WithSessionMiddleware wraps every session call. Retries do not belong here: a
// replayed call may reach a worker that lost the session's state.
func WithSessionMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.sessionMws = append(c.sessionMws, mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client that finds workers through reg.
func NewClient(reg registry.Registry, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    &loadbalance.RoundRobinBalancer{},
		affinity:    loadbalance.NewConsistentHashBalancer(),
		pools:       make(map[string]*transport.TransportPool),
		codecType:   codec.CodecTypeJSON,
		poolSize:    4,
		dialTimeout: 5 * time.Second,
		heartbeat:   transport.DefaultHeartbeat,
		readyWait:   10 * time.Second,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handler = middleware.Chain(c.middlewares...)(c.roundTrip)
	c.Proxy = Proxy{invoke: c.Call}
	return c
}

// Call invokes method with positional args and decodes the value into reply
// (which may be nil). A failed result is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, method message.Method, reply any, args ...any) error {
	return call(ctx, c.handler, method, reply, args...)
}

func call(ctx context.Context, handler middleware.HandlerFunc, method message.Method, reply any, args ...any) error {
	msg, err := message.NewCall(method, 0, args...)
	if err != nil {
		return err
	}
	result := handler(ctx, msg)
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if f := result.Fault(); f != nil {
		return &RemoteError{Method: method, Fault: f}
	}
	if reply == nil {
		return nil
	}
	if err := result.Decode(reply); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// roundTrip is the innermost handler for one-shot calls: any host, any pooled worker.
func (c *Client) roundTrip(ctx context.Context, call *message.Call) *message.Result {
	instances, err := c.registry.Discover(ctx, registry.ServiceName)
	if err != nil {
		return message.Failure(call, fmt.Errorf("%w: discover: %v", transport.ErrClosed, err))
	}
	instance, err := c.balancer.Pick(instances, "")
	if err != nil {
		return message.Failure(call, fmt.Errorf("%w: %v", transport.ErrClosed, err))
	}

	pool := c.pool(instance.Addr)
	t, err := c.borrow(ctx, pool)
	if err != nil {
		return message.Failure(call, err)
	}
	defer pool.Put(t)
	result := t.Invoke(ctx, call)
	if changesOptions(call) {
		resetOptions(t)
	}
	return result
}

// changesOptions reports whether call leaves options set on the worker.
func changesOptions(call *message.Call) bool {
	switch call.Method {
	case message.MethodSetOptions:
		return true
	case message.MethodRenderData:
		return len(call.Args) > 1
	}
	return false
}

// resetOptions restores default options on t's worker before t is shared again.
// The worker answers calls in order, so this runs after any call still in flight.
// If the reset fails the transport is closed and the pool discards it.
func resetOptions(t *transport.ClientTransport) {
	if t.Broken() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if result := t.Invoke(ctx, &message.Call{Method: message.MethodResetOptions}); !result.Success {
		t.Close()
	}
}

// borrow takes a transport from pool and waits for its worker to be ready.
func (c *Client) borrow(ctx context.Context, pool *transport.TransportPool) (*transport.ClientTransport, error) {
	t, err := pool.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutOr(ctx)
		}
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrClosed, pool.Addr(), err)
	}
	if t.IsReady() {
		return t, nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, c.readyWait)
	defer cancel()
	err = t.Ready(readyCtx)
	switch {
	case err == nil:
		return t, nil
	case ctx.Err() != nil:
		pool.Put(t)
		return nil, timeoutOr(ctx)
	case t.Broken():
		pool.Put(t)
		return nil, err
	}
	c.logger.Warn("worker not ready, sending anyway", "addr", pool.Addr(), "waited", c.readyWait)
	return t, nil
}

func timeoutOr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return middleware.ErrTimeout
	}
	return ctx.Err()
}

func (c *Client) pool(addr string) *transport.TransportPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewTransportPool(addr, c.poolSize, c.dialer(addr))
		c.pools[addr] = pool
	}
	return pool
}

func (c *Client) dialer(addr string) func(ctx context.Context) (*transport.ClientTransport, error) {
	return func(ctx context.Context) (*transport.ClientTransport, error) {
		d := net.Dialer{Timeout: c.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("connected to worker host", "addr", addr)
		return transport.NewClientTransportWithHeartbeat(conn, c.codecType, c.heartbeat)
	}
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pool := range c.pools {
		pool.Close()
		delete(c.pools, addr)
	}
	return nil
}
