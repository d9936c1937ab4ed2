// Package server hosts render workers behind a network listener.
//
// Every accepted connection gets its own Worker with its own toolkit instance, so
// a caller holding a connection holds a whole renderer.
//
//	Accept conn → handleConn
//	  ├─ worker.Run          (loads the toolkit, answers calls one at a time)
//	  ├─ readLoop            frames → Codec.Decode → worker.Post   (arrival order)
//	  └─ writeLoop           worker.Outbox → Codec.Encode → Ready/Result frames
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"score-render/adapter"
	"score-render/codec"
	"score-render/logging"
	"score-render/message"
	"score-render/middleware"
	"score-render/protocol"
	"score-render/registry"
	"score-render/worker"
)

// Server accepts caller connections and runs one worker per connection.
type Server struct {
	loader        worker.Loader
	listener      net.Listener
	wg            sync.WaitGroup          // Tracks live connections for graceful shutdown
	shutdown      atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Applied to every worker, in order
	workerOpts    []worker.Option
	registry      registry.Registry // nil if not using discovery
	instance      registry.Instance // What this host registered as
	advertiseAddr string            // Routable address registered for callers
	ttl           int64
	version       atomic.Value // string; probed while the admin surface may read it
	logger        *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	connections atomic.Int64
	active      atomic.Int64
	calls       atomic.Int64
	failures    atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithWorkerOptions passes options to every worker the server creates.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(s *Server) { s.workerOpts = append(s.workerOpts, opts...) }
}

// WithTTL sets the registry lease TTL in seconds.
func WithTTL(seconds int64) Option {
	return func(s *Server) { s.ttl = seconds }
}

// WithVersion sets the toolkit version advertised in the registry. Without it
// the server loads one toolkit at startup to ask.
func WithVersion(v string) Option {
	return func(s *Server) { s.version.Store(v) }
}

// NewServer creates a server whose workers load their toolkit with loader.
func NewServer(loader worker.Loader, opts ...Option) *Server {
	s := &Server{
		loader: loader,
		ttl:    10,
		logger: logging.Discard(),
		conns:  make(map[net.Conn]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. See ServeListener.
func (s *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener registers this host (when reg is not nil) and enters the Accept loop.
//
// advertiseAddr is what callers dial; it differs from the listen address because
// ":8080" is not routable from another host.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	if s.shutdown.Load() {
		listener.Close()
		return nil
	}

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	if reg != nil {
		instance := registry.NewInstance(advertiseAddr, 10, s.probeVersion())
		s.mu.Lock()
		s.registry, s.instance, s.advertiseAddr = reg, instance, advertiseAddr
		s.mu.Unlock()
		if err := reg.Register(s.ctx, registry.ServiceName, instance, s.ttl); err != nil {
			listener.Close()
			return fmt.Errorf("register %s: %w", advertiseAddr, err)
		}
		s.logger.Info("registered", "service", registry.ServiceName, "addr", advertiseAddr, "version", instance.Version)
	}

	s.logger.Info("serving", "addr", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close during Shutdown makes Accept fail
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// probeVersion loads a throwaway toolkit to learn its version.
func (s *Server) probeVersion() string {
	if v := s.Version(); v != "" {
		return v
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	tk, err := s.loader(ctx)
	if err != nil || tk == nil {
		s.logger.Warn("could not probe toolkit version", "error", err)
		return "unknown"
	}
	v, err := tk.GetVersion()
	if err != nil {
		s.logger.Warn("could not probe toolkit version", "error", err)
		return "unknown"
	}
	s.version.Store(v)
	return v
}

// Version returns the toolkit version, or "" before it is known.
func (s *Server) Version() string {
	v, _ := s.version.Load().(string)
	return v
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConn owns one connection and its worker until either side goes away.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	s.connections.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)

	logger := s.logger.With("remote", conn.RemoteAddr().String())
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	opts := append([]worker.Option{
		worker.WithLogger(logger),
		worker.WithMiddleware(s.middlewares...),
	}, s.workerOpts...)
	w := worker.New(s.loader, opts...)

	c := &serverConn{conn: conn, logger: logger}
	c.codecType.Store(uint32(codec.CodecTypeJSON))

	go w.Run(ctx)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(c, w)
	}()

	s.readLoop(ctx, c, w)

	// The caller hung up: stop the worker, let the writer drain and exit
	cancel()
	<-writeDone
}

// serverConn is the per-connection write side shared by the reader (rejects)
// and the writer (worker results).
type serverConn struct {
	conn      net.Conn
	writeMu   sync.Mutex    // Prevents frame interleaving
	codecType atomic.Uint32 // Codec of the most recent call; results use it
	logger    *log.Logger
}

func (c *serverConn) write(msgType protocol.MsgType, result *message.Result) error {
	cdc, err := codec.GetCodec(codec.CodecType(c.codecType.Load()))
	if err != nil {
		return err
	}
	body, err := cdc.Encode(result)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", result.Method, err)
	}
	header := protocol.Header{
		CodecType: byte(cdc.Type()),
		MsgType:   msgType,
		Idx:       result.Idx, // Same idx as the call: this is how replies are correlated
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Encode(c.conn, &header, body)
}

// readLoop is the only reader of the connection. Calls are posted in arrival order.
func (s *Server) readLoop(ctx context.Context, c *serverConn, w *worker.Worker) {
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("connection read ended", "error", err)
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeCall:
		default:
			c.logger.Warn("unexpected frame from caller", "type", header.MsgType)
			continue
		}

		cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
		if err == nil {
			c.codecType.Store(uint32(header.CodecType))
		}
		call := &message.Call{}
		if err == nil {
			err = cdc.Decode(body, call)
		}
		if err != nil {
			// Answered directly: the worker never sees a call it cannot read
			reject := message.Failure(&message.Call{Idx: header.Idx}, fmt.Errorf("%w: %v", adapter.ErrBadArguments, err))
			s.count(reject)
			if werr := c.write(protocol.MsgTypeResult, reject); werr != nil {
				return
			}
			continue
		}
		call.Idx = header.Idx

		if err := w.Post(ctx, call); err != nil {
			return
		}
	}
}

// writeLoop forwards the readiness envelope and every result until the worker stops.
func (s *Server) writeLoop(c *serverConn, w *worker.Worker) {
	for result := range w.Outbox() {
		msgType := protocol.MsgTypeResult
		if result.IsReady() {
			msgType = protocol.MsgTypeReady
		} else {
			s.count(result)
		}
		if err := c.write(msgType, result); err != nil {
			c.logger.Warn("write failed, dropping connection", "error", err)
			c.conn.Close()
			// Keep draining so the worker never blocks on a full outbox
			for range w.Outbox() {
			}
			return
		}
	}
}

func (s *Server) count(result *message.Result) {
	s.calls.Add(1)
	if !result.Success {
		s.failures.Add(1)
	}
}

// Stats is a snapshot of the host's counters.
type Stats struct {
	Connections int64  `json:"connections"` // Accepted since start
	Active      int64  `json:"active"`      // Currently open
	Calls       int64  `json:"calls"`
	Failures    int64  `json:"failures"`
	Version     string `json:"version,omitempty"`
}

// Stats returns the aggregated counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Active:      s.active.Load(),
		Calls:       s.calls.Load(),
		Failures:    s.failures.Load(),
		Version:     s.Version(),
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (callers stop routing here)
//  2. Set the shutdown flag and close the listener
//  3. Stop every worker and close every connection; pending callers see a
//     TransportError and can retry on another host
//  4. Wait for connection goroutines to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	reg, addr := s.registry, s.advertiseAddr
	s.mu.Unlock()
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, registry.ServiceName, addr); err != nil {
			s.logger.Warn("deregister failed", "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for workers to stop")
	}
}
