package amrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/qtcdxxyuc/amrpc/codec"
	"github.com/qtcdxxyuc/amrpc/internal/executor"
	"github.com/qtcdxxyuc/amrpc/transport"
)

// slowCallbackThreshold is how long an RPC handler or a Puller handler may
// run before a diagnostic warning is logged. It never cancels the call; it
// only flags handlers that are eating into the executor's single-threaded
// budget or holding up a Puller's read loop.
const slowCallbackThreshold = 50 * time.Millisecond

type methodInfo struct {
	typ      codec.MessageType
	method   string
	funcName string
}

// Server accepts RPC calls and Publish subscriptions on a single
// ipc://name or tcp://host:port endpoint.
type Server struct {
	t     *transport.Server
	exec  *executor.Executor
	debug bool

	mu           sync.RWMutex
	rpcInfo      map[string]methodInfo
	distributors map[string]*distributor
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithDebug toggles the /debug/reflection endpoint and the slow-callback
// diagnostic warnings. Debug is enabled by default.
func WithDebug(enabled bool) ServerOption {
	return func(s *Server) { s.debug = enabled }
}

// WithExecutor runs the server's dispatch and fanout work on an
// executor the caller already owns, instead of a private one.
func WithExecutor(e *executor.Executor) ServerOption {
	return func(s *Server) { s.exec = e }
}

// NewServer binds uri and prepares a Server for registrations; call
// Serve to begin accepting connections.
func NewServer(uri string, opts ...ServerOption) (*Server, error) {
	ts, err := transport.NewServer(uri)
	if err != nil {
		return nil, err
	}
	s := &Server{
		t:            ts,
		debug:        true,
		rpcInfo:      make(map[string]methodInfo),
		distributors: make(map[string]*distributor),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		s.exec = executor.New()
	}
	if s.debug {
		s.addDebugReflection()
	}
	return s, nil
}

// Serve blocks accepting connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.t.Serve(ctx)
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.t.Addr().String()
}

// Del removes a previously registered RPC method or Publish topic. It
// is a no-op if method is not registered.
func (s *Server) Del(method string) error {
	s.exec.Do(func() {
		s.mu.Lock()
		delete(s.rpcInfo, method)
		delete(s.distributors, method)
		s.mu.Unlock()
		s.t.Del(method)
	})
	return nil
}

// GetPullerSize reports how many subscribers are currently attached to
// a Publish topic.
func (s *Server) GetPullerSize(method string) (int, error) {
	var n int
	var err error
	s.exec.Do(func() {
		s.mu.RLock()
		d, ok := s.distributors[method]
		s.mu.RUnlock()
		if !ok {
			err = newException("publish method not registered: %s", method)
			return
		}
		n = d.size()
	})
	return n, err
}

func (s *Server) addRawRPC(info methodInfo, call func(ctx context.Context, body []byte) ([]byte, error)) error {
	var regErr error
	s.exec.Do(func() {
		s.mu.Lock()
		if _, exists := s.rpcInfo[info.method]; exists {
			regErr = fmt.Errorf("amrpc: method %q already registered", info.method)
			s.mu.Unlock()
			return
		}
		s.rpcInfo[info.method] = info
		s.mu.Unlock()

		regErr = s.t.AddUnary(info.method, s.dispatch(info, call))
		if regErr != nil {
			s.mu.Lock()
			delete(s.rpcInfo, info.method)
			s.mu.Unlock()
		}
	})
	return regErr
}

// dispatch builds the per-request pipeline described for every RPC
// method: recognize the liveness probe, negotiate wire forms from
// Content-Type/Accept, convert the request body, invoke the user
// callback on the executor, convert the result, and map any failure
// along the way onto the right status code.
func (s *Server) dispatch(info methodInfo, call func(ctx context.Context, body []byte) ([]byte, error)) transport.UnaryHandler {
	return func(ctx context.Context, peer string, req *transport.Request) *transport.Response {
		if req.Header.Get(headerCheckEnabled) != "" {
			return &transport.Response{Status: http.StatusOK}
		}

		reqType := codec.MIMEToType(req.Header.Get(headerContentType))
		resMIME := req.Header.Get(headerAccept)
		if resMIME == "" {
			resMIME = info.typ.MIME()
		}
		resType := codec.MIMEToType(resMIME)

		resp := &transport.Response{}

		s.exec.Do(func() {
			converted, err := codec.Convert(reqType, info.typ, req.Body)
			if err != nil {
				resp.Status, resp.Body = http.StatusInternalServerError, []byte(dataConvertError(err).Error())
				return
			}

			start := time.Now()
			result, err := call(ctx, converted)
			if elapsed := time.Since(start); s.debug && elapsed > slowCallbackThreshold {
				log.Printf("amrpc: rpc handler for %q ran %v, exceeding the %v diagnostic threshold", info.method, elapsed, slowCallbackThreshold)
			}
			if err != nil {
				resp.Status, resp.Body = http.StatusInternalServerError, []byte(err.Error())
				return
			}

			out, err := codec.Convert(info.typ, resType, result)
			if err != nil {
				resp.Status, resp.Body = http.StatusInternalServerError, []byte(dataConvertError(err).Error())
				return
			}

			resp.Status = http.StatusOK
			resp.Header = make(http.Header, 1)
			resp.Header.Set(headerContentType, resMIME)
			resp.Body = out
		})

		return resp
	}
}

func (s *Server) addRawPublish(info methodInfo, queueSize uint) error {
	s.exec.Do(func() {
		s.mu.Lock()
		if _, exists := s.distributors[info.method]; exists {
			// Publish registration is idempotent: re-registering the same
			// topic is a no-op, matching the reference server's dedup check.
			s.mu.Unlock()
			return
		}
		d := newDistributor(info, queueSize)
		s.distributors[info.method] = d
		s.mu.Unlock()

		s.t.AddStream(info.method, s.streamAccept(info), s.streamHandler(d))
	})
	return nil
}

func (s *Server) streamAccept(info methodInfo) transport.StreamAccept {
	return func(header http.Header) (status int, subProtocol string, respHeader http.Header) {
		requested := header.Get(headerSubProtocol)
		typ := info.typ
		if requested != "" {
			typ = codec.SubProtocolToType(requested)
		}
		respHeader = make(http.Header, 1)
		respHeader.Set(headerContentType, typ.MIME())
		return http.StatusSwitchingProtocols, typ.SubProtocol(), respHeader
	}
}

func (s *Server) streamHandler(d *distributor) transport.StreamHandler {
	return func(peer string, session transport.Session) {
		typ := codec.SubProtocolToType(session.Subprotocol())
		d.addClient(typ, peer, session)
	}
}

func (s *Server) rawPublish(method string, typ codec.MessageType, payload []byte) error {
	var err error
	s.exec.Do(func() {
		s.mu.RLock()
		d, ok := s.distributors[method]
		s.mu.RUnlock()
		if !ok {
			err = newException("publish method not registered: %s", method)
			return
		}
		err = d.update(typ, payload, s.debug)
	})
	return err
}

func (s *Server) addDebugReflection() {
	_ = s.t.AddUnary("/debug/reflection", func(ctx context.Context, peer string, req *transport.Request) *transport.Response {
		s.mu.RLock()
		rpc := make(map[string]string, len(s.rpcInfo))
		for method, info := range s.rpcInfo {
			rpc[method] = info.funcName
		}
		pub := make(map[string]string, len(s.distributors))
		for method, d := range s.distributors {
			pub[method] = d.info.funcName
		}
		s.mu.RUnlock()

		out, err := json.MarshalIndent(struct {
			RPC     map[string]string `json:"rpc"`
			Publish map[string]string `json:"publish"`
		}{rpc, pub}, "", "  ")
		if err != nil {
			return &transport.Response{Status: http.StatusInternalServerError, Body: []byte(err.Error())}
		}
		h := make(http.Header, 1)
		h.Set(headerContentType, "application/json")
		return &transport.Response{Status: http.StatusOK, Header: h, Body: out}
	})
}
