// Package transport implements the caller side of the worker protocol: one
// multiplexed connection to a worker host, with idx correlation and heartbeats.
//
// Every call gets a fresh idx; a single receive loop reads result frames and routes
// each one to the channel registered for its idx.
//
//	goroutine-1 ──Send(idx=1)──┐
//	goroutine-2 ──Send(idx=2)──┼──→ one conn ──→ worker (one toolkit)
//	goroutine-3 ──Send(idx=3)──┘
//
//	recvLoop:  ←── result(idx=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"score-render/codec"
	"score-render/message"
	"score-render/middleware"
	"score-render/protocol"
	"sync"
	"time"
)

// ErrClosed is the failure of calls pending on (or sent to) a broken connection.
var ErrClosed = message.NewKind(message.FaultTransport, "connection closed")

// DefaultHeartbeat is the keepalive interval used by NewClientTransport.
const DefaultHeartbeat = 30 * time.Second

// ClientTransport manages a single multiplexed connection to one worker.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.Codec
	idx     uint32     // Last assigned correlation id (protected by sending)
	pending sync.Map   // map[uint32]chan *message.Result
	sending sync.Mutex // Serializes frame writes on conn

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewClientTransport wraps conn and starts the receive and heartbeat loops.
func NewClientTransport(conn net.Conn, codecType codec.CodecType) (*ClientTransport, error) {
	return NewClientTransportWithHeartbeat(conn, codecType, DefaultHeartbeat)
}

// NewClientTransportWithHeartbeat is NewClientTransport with a custom keepalive interval.
func NewClientTransportWithHeartbeat(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration) (*ClientTransport, error) {
	cdc, err := codec.GetCodec(codecType)
	if err != nil {
		return nil, err
	}
	t := &ClientTransport{
		conn:   conn,
		codec:  cdc,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(heartbeat)
	return t, nil
}

// Ready blocks until the worker announced readiness, the connection broke, or ctx ended.
func (t *ClientTransport) Ready(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.closed:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsReady reports whether the readiness frame has arrived.
func (t *ClientTransport) IsReady() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// Send writes a call for method and returns its idx and the channel its result
// will arrive on. The channel always receives exactly one Result unless the idx
// is forgotten first.
func (t *ClientTransport) Send(method message.Method, args ...any) (uint32, <-chan *message.Result, error) {
	if t.Broken() {
		return 0, nil, t.Err()
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.idx++
	idx := t.idx

	call, err := message.NewCall(method, idx, args...)
	if err != nil {
		return 0, nil, err
	}
	body, err := t.codec.Encode(call)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeCall,
		Idx:       idx,
	}

	// Register before writing so recvLoop can never see an unknown idx for this call
	respChan := make(chan *message.Result, 1)
	t.pending.Store(idx, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(idx)
		t.fail(err)
		return 0, nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	return idx, respChan, nil
}

// Invoke sends call (its Idx is replaced by a fresh one) and waits for the result.
// If ctx ends first the idx is forgotten and a failure is returned; the worker's
// eventual reply is dropped.
func (t *ClientTransport) Invoke(ctx context.Context, call *message.Call) *message.Result {
	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		args[i] = a
	}
	idx, ch, err := t.Send(call.Method, args...)
	if err != nil {
		return message.Failure(call, err)
	}

	select {
	case result := <-ch:
		return result
	case <-ctx.Done():
		t.Forget(idx)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return message.Failure(call, middleware.ErrTimeout)
		}
		return message.Failure(call, ctx.Err())
	}
}

// Forget discards the correlation id; a late result for it is dropped.
func (t *ClientTransport) Forget(idx uint32) {
	t.pending.Delete(idx)
}

// Pending returns the number of calls waiting for a result.
func (t *ClientTransport) Pending() int {
	n := 0
	t.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// recvLoop is the only reader of conn. It routes results by idx and drops
// results nobody waits for.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeReady:
			t.readyOnce.Do(func() { close(t.ready) })
			continue
		case protocol.MsgTypeResult:
		default:
			continue
		}

		cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
		if err != nil {
			continue
		}
		result := &message.Result{}
		if err := cdc.Decode(body, result); err != nil {
			result = message.Failure(&message.Call{Idx: header.Idx}, fmt.Errorf("%w: undecodable result: %v", ErrClosed, err))
		}
		result.Idx = header.Idx

		if channel, ok := t.pending.LoadAndDelete(header.Idx); ok {
			channel.(chan *message.Result) <- result
		}
	}
}

// fail marks the transport broken and answers every pending call with ErrClosed.
func (t *ClientTransport) fail(err error) {
	t.closeOnce.Do(func() {
		t.closeErr = fmt.Errorf("%w: %v", ErrClosed, err)
		close(t.closed)
		t.conn.Close()
	})
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.Result) <- message.Failure(&message.Call{Idx: key.(uint32)}, t.closeErr)
		}
		return true
	})
}

// Broken reports whether the connection has failed or been closed.
func (t *ClientTransport) Broken() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Err returns why the transport broke, or nil.
func (t *ClientTransport) Err() error {
	if !t.Broken() {
		return nil
	}
	return t.closeErr
}

// Close shuts the connection; pending calls fail with ErrClosed.
func (t *ClientTransport) Close() error {
	t.fail(errors.New("closed by caller"))
	return nil
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop keeps idle connections from being reaped by intermediaries.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
