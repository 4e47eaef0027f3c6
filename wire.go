// Package amrpc is a lightweight RPC and publish/subscribe library for
// loosely coupled processes that talk over a plain ipc:// (unix domain
// socket) or tcp:// endpoint. A Server exposes unary RPC methods and
// Publish topics; RemoteFunction and Puller are the client-side handles
// for calling one and subscribing to the other.
package amrpc

import (
	"net/http"

	"github.com/qtcdxxyuc/amrpc/codec"
)

const (
	headerContentType  = "Content-Type"
	headerAccept       = "Accept"
	headerCheckEnabled = "Amrpc-Check-Enabled"
	headerSubProtocol  = "Sec-WebSocket-Protocol"
)

func mimeHeader(t codec.MessageType) http.Header {
	h := make(http.Header, 1)
	h.Set(headerContentType, t.MIME())
	h.Set(headerAccept, t.MIME())
	return h
}
