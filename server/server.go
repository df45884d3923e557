// Package server implements the RPC server: service registration, the accept
// loop, per-request dispatch and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → transport.Conn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Request.Unmarshal → Middleware Chain → Dispatcher.Dispatch → Response.Marshal → write response
package server

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-session-rpc/codec"
	"mini-session-rpc/contract"
	"mini-session-rpc/logger"
	"mini-session-rpc/message"
	"mini-session-rpc/metrics"
	"mini-session-rpc/middleware"
	"mini-session-rpc/protocol"
	"mini-session-rpc/registry"
	"mini-session-rpc/transport"
)

// ProtocolVersion is announced alongside the address in the registry.
const ProtocolVersion = "1"

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	dispatcher    *Dispatcher
	listener      net.Listener
	wg            sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool             // Set to true during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc  // middleware(middleware(...(dispatcher.Dispatch)))
	registry      registry.Registry       // Endpoint announcement, nil if not used
	advertiseAddr string                  // Address announced in the registry (routable, unlike ":7070")
	announceTTL   int64
	peers         sync.Map // conn id → *transport.Conn
	peerCount     atomic.Int64
	log           *zap.Logger
	codec         codec.Codec
	metrics       *metrics.Metrics
}

type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = logger.OrNop(log) }
}

func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRegistry announces every registered service at advertiseAddr once
// Serve starts, and withdraws them on Shutdown. An empty advertiseAddr means
// the address Listen bound.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
		s.announceTTL = ttl
	}
}

// NewServer creates a server whose registry already holds the heartbeat
// service.
func NewServer(opts ...Option) *Server {
	s := &Server{log: zap.NewNop(), codec: codec.Default, announceTTL: 10}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatcher = NewDispatcher(s.codec, s.log, s.metrics)
	return s
}

// Register registers impl under the service declared on interface T.
func Register[T any](s *Server, impl T) error {
	return s.RegisterService(contract.TypeOf[T](), impl)
}

// MustRegister is like Register but panics on error. It is meant for
// program setup where a bad registration is a bug.
func MustRegister[T any](s *Server, impl T) {
	if err := Register[T](s, impl); err != nil {
		panic(err)
	}
}

// RegisterService is the non-generic form of Register. Services must be
// registered before Serve; there is no unregister.
func (s *Server) RegisterService(iface reflect.Type, impl any) error {
	return s.dispatcher.Register(iface, impl)
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Dispatcher exposes the registry for in-process dispatch.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Listen binds the listening endpoint without serving yet.
func (s *Server) Listen(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = l
	if s.registry != nil && s.advertiseAddr == "" {
		s.advertiseAddr = l.Addr().String()
	}
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(network, address string) error {
	if err := s.Listen(network, address); err != nil {
		return err
	}
	return s.Serve()
}

// Serve announces the services (if a registry is set) and enters the accept
// loop. It returns nil after Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("server: Serve called before Listen")
	}

	// Build the middleware chain once at startup (not per-request)
	s.handler = middleware.Chain(s.middlewares...)(s.dispatcher.Dispatch)

	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, name := range s.dispatcher.Services() {
			err := s.registry.Register(ctx, name, registry.ServiceInstance{
				Addr:    s.advertiseAddr,
				Version: ProtocolVersion,
			}, s.announceTTL)
			if err != nil {
				s.log.Warn("announce failed", zap.String("service", name), zap.Error(err))
			}
		}
		cancel()
	}

	s.log.Info("serving", zap.Stringer("addr", s.listener.Addr()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		// Record the peer before its read loop can report a close.
		c := transport.NewConn(conn, (*peerHandler)(s))
		s.peers.Store(c.ID(), c)
		s.peerCount.Add(1)
		s.log.Info("peer connected", zap.String("conn", c.ID()), zap.Stringer("remote", c.RemoteAddr()))
		c.Start()
	}
}

// ActivePeers is the number of open client connections.
func (s *Server) ActivePeers() int {
	return int(s.peerCount.Load())
}

// peerHandler adapts Server to transport.Handler.
type peerHandler Server

func (h *peerHandler) OnMessage(c *transport.Conn, t protocol.MsgType, body []byte) {
	s := (*Server)(h)
	if t != protocol.MsgTypeRequest {
		s.log.Warn("unexpected frame type", zap.String("conn", c.ID()), zap.Uint8("type", uint8(t)))
		return
	}
	req := &message.Request{}
	if err := req.Unmarshal(body); err != nil {
		// Without a request id there is nobody to answer.
		s.log.Error("malformed request dropped", zap.String("conn", c.ID()), zap.Error(err))
		return
	}

	// A slow handler on one request must not block later requests on the
	// same connection.
	s.wg.Add(1)
	go s.handleRequest(c, req)
}

func (h *peerHandler) OnClose(c *transport.Conn, err error) {
	s := (*Server)(h)
	if _, ok := s.peers.LoadAndDelete(c.ID()); ok {
		s.peerCount.Add(-1)
	}
	s.log.Info("peer disconnected", zap.String("conn", c.ID()), zap.NamedError("reason", err))
}

// handleRequest runs the handler chain and writes the response on the
// connection the request came from.
func (s *Server) handleRequest(c *transport.Conn, req *message.Request) {
	defer s.wg.Done()

	resp := s.handler(context.Background(), req)
	resp.RequestID = req.RequestID

	if err := c.Send(protocol.MsgTypeResponse, resp.Marshal()); err != nil {
		s.log.Warn("failed to write response", zap.String("conn", c.ID()), zap.Uint64("request_id", req.RequestID), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Withdraw the announcement (clients resolving now won't find us)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close every peer connection
func (s *Server) Shutdown(timeout time.Duration) error {
	var errs error
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, name := range s.dispatcher.Services() {
			errs = multierr.Append(errs, s.registry.Deregister(ctx, name, s.advertiseAddr))
		}
		cancel()
	}

	s.shutdown.Store(true)
	if s.listener != nil {
		errs = multierr.Append(errs, s.listener.Close())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		errs = multierr.Append(errs, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	s.peers.Range(func(key, value any) bool {
		value.(*transport.Conn).Close()
		return true
	})
	return errs
}
