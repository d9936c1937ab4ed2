// Package worker implements the render worker: bootstrap of the rendering toolkit
// and the single-threaded dispatcher that answers call envelopes.
//
// One Worker owns one toolkit instance for its whole lifetime. Calls are consumed
// from a bounded inbox strictly in arrival order by a single loop goroutine, so the
// toolkit is never touched concurrently.
//
//	Post(call) ──► inbox ──► Run loop ──► middleware ──► registry.Invoke ──► outbox
//	                            ▲
//	   loader goroutine ────────┘ (toolkit loaded: build registry, emit ready once)
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"score-render/adapter"
	"score-render/logging"
	"score-render/message"
	"score-render/middleware"
)

// ErrStopped is returned by Post once Run has returned.
var ErrStopped = errors.New("worker: stopped")

// Loader initializes the rendering toolkit. It runs once, off the dispatch loop;
// its return is the "runtime initialized" notification.
type Loader func(ctx context.Context) (adapter.Toolkit, error)

// State is the worker's readiness gate.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// Stats is a snapshot of a worker's counters.
type Stats struct {
	State    State
	Calls    int64
	Failures int64
}

// Worker is the worker-local state: an optional adapter registry plus the
// channels feeding and draining the dispatch loop.
type Worker struct {
	loader      Loader
	registry    *adapter.Registry // nil until the toolkit is loaded; owned by the Run goroutine
	loadErr     error             // set if the loader failed; owned by the Run goroutine
	state       atomic.Int32
	inbox       chan *message.Call
	outbox      chan *message.Result
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	logger      *log.Logger
	calls       atomic.Int64
	failures    atomic.Int64
	started     atomic.Bool
	booted      chan struct{}
	done        chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithInboxSize bounds the number of calls queued ahead of the loop.
func WithInboxSize(n int) Option {
	return func(w *Worker) { w.inbox = make(chan *message.Call, n) }
}

// WithOutboxSize bounds the number of results waiting to be written.
func WithOutboxSize(n int) Option {
	return func(w *Worker) { w.outbox = make(chan *message.Result, n) }
}

// WithMiddleware wraps every invocation, in the given order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.middlewares = append(w.middlewares, mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates an uninitialized worker. Nothing runs until Run is called.
func New(loader Loader, opts ...Option) *Worker {
	w := &Worker{
		loader: loader,
		inbox:  make(chan *message.Call, 64),
		outbox: make(chan *message.Result, 64),
		logger: logging.Discard(),
		booted: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.handler = middleware.Chain(w.middlewares...)(w.invoke)
	return w
}

// Post enqueues call, blocking while the inbox is full.
func (w *Worker) Post(ctx context.Context, call *message.Call) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	select {
	case w.inbox <- call:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrStopped
	}
}

// Outbox yields the readiness envelope and every result. It is closed when Run returns.
func (w *Worker) Outbox() <-chan *message.Result {
	return w.outbox
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Booted is closed once the loader has finished, whether or not it succeeded.
func (w *Worker) Booted() <-chan struct{} {
	return w.booted
}

// State reports the readiness gate.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{State: w.State(), Calls: w.calls.Load(), Failures: w.failures.Load()}
}

type loaded struct {
	toolkit adapter.Toolkit
	err     error
}

// Run loads the toolkit in the background and serves calls until ctx is canceled.
// It may be called once.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("worker: Run called twice")
	}
	defer close(w.outbox)
	defer close(w.done)

	boot := make(chan loaded, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				boot <- loaded{err: fmt.Errorf("loader panicked: %v", p)}
			}
		}()
		tk, err := w.loader(ctx)
		boot <- loaded{toolkit: tk, err: err}
	}()

	for {
		// Readiness takes priority over queued calls once the loader is done
		select {
		case l := <-boot:
			boot = nil
			if !w.initialize(ctx, l) {
				return ctx.Err()
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case l := <-boot:
			boot = nil
			if !w.initialize(ctx, l) {
				return ctx.Err()
			}
		case call := <-w.inbox:
			if !w.emit(ctx, w.dispatch(ctx, call)) {
				return ctx.Err()
			}
		}
	}
}

// initialize performs the one-time uninitialized → ready transition.
func (w *Worker) initialize(ctx context.Context, l loaded) bool {
	defer close(w.booted)
	if l.err == nil && l.toolkit == nil {
		l.err = errors.New("loader returned no toolkit")
	}
	if l.err != nil {
		w.loadErr = l.err
		w.logger.Error("toolkit failed to load", "error", l.err)
		return true
	}

	registry, err := adapter.New(l.toolkit)
	if err != nil {
		w.loadErr = err
		w.logger.Error("adapter registry rejected toolkit", "error", err)
		return true
	}
	w.registry = registry
	w.state.Store(int32(StateReady))
	w.logger.Info("toolkit ready", "methods", len(registry.Methods()))
	return w.emit(ctx, message.NewReady())
}

// dispatch answers one call. The result always echoes the call's method and idx.
func (w *Worker) dispatch(ctx context.Context, call *message.Call) *message.Result {
	w.calls.Add(1)
	result := w.handler(ctx, call)
	if result == nil {
		result = message.Failure(call, fmt.Errorf("%w: %s produced no result", adapter.ErrInvocation, call.Method))
	}
	result.Method = call.Method
	result.Idx = call.Idx
	if !result.Success {
		w.failures.Add(1)
	}
	return result
}

// invoke is the innermost handler: the readiness gate, then the registry.
func (w *Worker) invoke(ctx context.Context, call *message.Call) *message.Result {
	if w.registry == nil {
		if w.loadErr != nil {
			return message.Failure(call, fmt.Errorf("%w: %v", adapter.ErrNotReady, w.loadErr))
		}
		return message.Failure(call, adapter.ErrNotReady)
	}

	switch out := w.registry.Invoke(call); {
	case out.OK():
		return &message.Result{Method: call.Method, Idx: call.Idx, Result: out.Value, Success: true}
	default:
		return message.Failure(call, out.Err)
	}
}

func (w *Worker) emit(ctx context.Context, result *message.Result) bool {
	select {
	case w.outbox <- result:
		return true
	case <-ctx.Done():
		return false
	}
}
