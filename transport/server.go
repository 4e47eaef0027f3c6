// Package transport is the thin HTTP-and-WebSocket front door amrpc's RPC
// dispatcher and Distributor are built on: a unary request/response path
// for RPC calls and probes, and a stream-upgrade path for Publish
// subscriptions. It knows nothing about MessageType, conversion or the
// amrpc wire headers beyond carrying them; that belongs to the amrpc
// package itself.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

// Request is an inbound unary call: the caller's headers and body.
type Request struct {
	Header http.Header
	Body   []byte
}

// Response is what a UnaryHandler returns for a unary call.
type Response struct {
	Status int
	Reason string
	Header http.Header
	Body   []byte
}

// UnaryHandler answers a single request/response exchange for a
// registered method.
type UnaryHandler func(ctx context.Context, peer string, req *Request) *Response

// StreamAccept decides whether to upgrade a streaming connection request
// and which sub-protocol to accept, mirroring a WebSocket handshake's
// Accept/Sec-WebSocket-Protocol negotiation. status should be 101 to
// accept the upgrade, or any other code to reject it with no upgrade.
type StreamAccept func(header http.Header) (status int, subProtocol string, responseHeader http.Header)

// StreamHandler takes ownership of a newly accepted Session. It is run in
// its own goroutine; the transport does nothing with the session after it
// returns, so a handler may pass the session to other goroutines and
// return at once.
type StreamHandler func(peer string, session Session)

type streamEntry struct {
	accept  StreamAccept
	handler StreamHandler
}

// Server listens for unary and streaming connections on a single
// ipc:// or tcp:// endpoint and dispatches them to registered handlers
// by path.
type Server struct {
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	unary   map[string]UnaryHandler
	streams map[string]streamEntry
}

// NewServer binds uri (ipc://name or tcp://host:port) without yet
// accepting connections; call Serve to start accepting.
func NewServer(uri string) (*Server, error) {
	ep, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	var lis net.Listener
	switch ep.scheme {
	case "tcp":
		lis, err = net.Listen("tcp", ep.target)
	case "ipc":
		path := socketPath(ep.target)
		_ = os.Remove(path)
		lis, err = net.Listen("unix", path)
	}
	if err != nil {
		return nil, fmt.Errorf("amrpc: listen %s: %w", uri, err)
	}

	s := &Server{
		listener: lis,
		unary:    make(map[string]UnaryHandler),
		streams:  make(map[string]streamEntry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.http = &http.Server{Handler: s}
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// AddUnary registers h to answer unary requests at path. It returns an
// error if path is already registered, matching the transport-level
// duplicate-registration rejection amrpc.Server relies on for AddRPC.
func (s *Server) AddUnary(path string, h UnaryHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.unary[path]; exists {
		return fmt.Errorf("amrpc: method %q already registered", path)
	}
	s.unary[path] = h
	return nil
}

// AddStream registers a stream endpoint at path. Re-registering the same
// path replaces the previous entry, since amrpc.Server's AddPublish is
// idempotent at the amrpc layer and never calls down here twice for the
// same method.
func (s *Server) AddStream(path string, accept StreamAccept, h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[path] = streamEntry{accept: accept, handler: h}
}

// Del removes any unary or stream registration at path.
func (s *Server) Del(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unary, path)
	delete(s.streams, path)
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.http.Close()
	}()
	err := s.http.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	unary, isUnary := s.unary[r.URL.Path]
	stream, isStream := s.streams[r.URL.Path]
	s.mu.RUnlock()

	switch {
	case isUnary:
		s.serveUnary(w, r, unary)
	case isStream:
		s.serveStream(w, r, stream)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveUnary(w http.ResponseWriter, r *http.Request, h UnaryHandler) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req := &Request{Header: r.Header, Body: body}
	resp := h(r.Context(), r.RemoteAddr, req)
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, e streamEntry) {
	status, subProtocol, responseHeader := e.accept(r.Header)
	if status != http.StatusSwitchingProtocols {
		for k, vs := range responseHeader {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(status)
		return
	}

	upgrader := s.upgrader
	if subProtocol != "" {
		upgrader.Subprotocols = []string{subProtocol}
	}
	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return
	}
	go e.handler(r.RemoteAddr, newWSSession(conn))
}
