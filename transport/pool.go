// Package transport also provides TransportPool, the per-address pool the client
// draws worker connections from.
//
// A transport is handed out exclusively: a render worker keeps loaded score state
// between calls, so a caller holding a transport also holds that worker's toolkit.
// The pool uses a buffered channel as a FIFO of idle transports.
package transport

import (
	"context"
	"fmt"
	"sync"
)

// TransportPool manages reusable transports to a single worker host.
type TransportPool struct {
	mu       sync.Mutex
	idle     chan *ClientTransport // Idle transports, FIFO
	addr     string
	maxConns int
	curConns int // Transports created and not yet discarded
	closed   bool
	factory  func(ctx context.Context) (*ClientTransport, error)
}

// NewTransportPool creates an empty pool that grows lazily up to maxConns.
func NewTransportPool(addr string, maxConns int, factory func(ctx context.Context) (*ClientTransport, error)) *TransportPool {
	if maxConns < 1 {
		maxConns = 1
	}
	return &TransportPool{
		idle:     make(chan *ClientTransport, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Addr returns the worker host address this pool dials.
func (p *TransportPool) Addr() string {
	return p.addr
}

// Get returns an idle transport, creates one while under the limit, or waits
// for one to be returned.
func (p *TransportPool) Get(ctx context.Context) (*ClientTransport, error) {
	for {
		select {
		case t := <-p.idle:
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		default:
		}

		t, err := p.tryCreate(ctx)
		if err != nil || t != nil {
			return t, err
		}

		// At capacity: wait for a transport to come back
		select {
		case t := <-p.idle:
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Put returns t to the pool. A broken transport is closed and forgotten.
func (p *TransportPool) Put(t *ClientTransport) {
	// Checking closed and queueing under one lock keeps Close from draining
	// idle in between and missing t
	p.mu.Lock()
	queued := false
	if !p.closed && !t.Broken() {
		select {
		case p.idle <- t:
			queued = true
		default:
		}
	}
	p.mu.Unlock()
	if !queued {
		p.discard(t)
	}
}

// Size returns the number of live transports (idle or in use).
func (p *TransportPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curConns
}

// Close shuts the pool and every idle transport. Transports in use are closed
// when they are returned.
func (p *TransportPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case t := <-p.idle:
			p.discard(t)
		default:
			return nil
		}
	}
}

// tryCreate dials a new transport if under the limit. It returns (nil, nil) at capacity.
func (p *TransportPool) tryCreate(ctx context.Context) (*ClientTransport, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("transport pool for %s is closed", p.addr)
	}
	if p.curConns >= p.maxConns {
		p.mu.Unlock()
		return nil, nil
	}
	p.curConns++
	p.mu.Unlock()

	t, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return nil, err
	}
	return t, nil
}

func (p *TransportPool) discard(t *ClientTransport) {
	t.Close()
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
}
