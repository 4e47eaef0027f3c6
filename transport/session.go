package transport

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session is a single open streaming connection, used by both the
// server's per-subscriber Distributor writer loop and the client's
// Puller read loop. A Session supports at most one concurrent reader
// and one concurrent writer, matching the guarantee gorilla/websocket
// makes about its underlying connection.
type Session interface {
	// Read blocks for the next frame. It returns an error once the peer
	// closes the connection or the transport otherwise fails.
	Read() ([]byte, error)
	// Write sends a single frame. Safe to call from a different
	// goroutine than Read, but never concurrently with itself.
	Write(b []byte) error
	// Close tears down the underlying connection. Safe to call more
	// than once.
	Close() error
	// Subprotocol returns the WebSocket sub-protocol negotiated when
	// the session was established.
	Subprotocol() string
}

// wsSession adapts a gorilla/websocket connection to Session.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{conn: conn}
}

func (s *wsSession) Read() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSession) Write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *wsSession) Close() error {
	return s.conn.Close()
}

func (s *wsSession) Subprotocol() string {
	return s.conn.Subprotocol()
}
