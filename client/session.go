package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"score-render/message"
	"score-render/middleware"
	"score-render/registry"
	"score-render/transport"
)

const resetTimeout = 5 * time.Second

// Session pins one worker for a stateful sequence such as LoadData followed by
// RenderToSVG. The host is chosen by consistent hash on the session key, so a
// key keeps landing on the same host while the host set is stable.
//
// A Session is not retried across connections: a lost connection loses the
// loaded score, and every later call fails with a TransportError.
type Session struct {
	Proxy

	key      string
	instance registry.Instance
	pool     *transport.TransportPool
	t        *transport.ClientTransport
	handler  middleware.HandlerFunc
	mu       sync.Mutex // One call at a time: results depend on the order of calls
	closed   bool
}

// NewSession opens a session under a fresh random key.
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	return c.Session(ctx, uuid.NewString())
}

// Session opens a session for key (for example the site's sessionUUID cookie).
func (c *Client) Session(ctx context.Context, key string) (*Session, error) {
	instances, err := c.registry.Discover(ctx, registry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	instance, err := c.affinity.Pick(instances, key)
	if err != nil {
		return nil, err
	}

	pool := c.pool(instance.Addr)
	t, err := c.borrow(ctx, pool)
	if err != nil {
		return nil, err
	}

	s := &Session{key: key, instance: *instance, pool: pool, t: t}
	s.handler = middleware.Chain(c.sessionMws...)(s.roundTrip)
	s.Proxy = Proxy{invoke: s.Call}
	c.logger.Debug("session opened", "key", key, "addr", instance.Addr)
	return s, nil
}

// Key returns the session key.
func (s *Session) Key() string {
	return s.key
}

// Instance returns the host the session is pinned to.
func (s *Session) Instance() registry.Instance {
	return s.instance
}

// Call is Client.Call on the pinned worker.
func (s *Session) Call(ctx context.Context, method message.Method, reply any, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &RemoteError{Method: method, Fault: message.AsFault(transport.ErrClosed)}
	}
	return call(ctx, s.handler, method, reply, args...)
}

func (s *Session) roundTrip(ctx context.Context, call *message.Call) *message.Result {
	return s.t.Invoke(ctx, call)
}

// Close resets the worker's options and returns the connection to the client's
// pool, so the next borrower starts from default options. A broken transport is
// discarded by the pool.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	resetOptions(s.t)
	s.pool.Put(s.t)
	return nil
}
