package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Client issues unary requests and opens streaming connections against a
// host string of the form ipc://name or tcp://host:port.
type Client struct {
	httpClient *http.Client
	dialer     websocket.Dialer
}

// NewClient builds a Client whose unary requests and stream handshakes
// time out after timeout (zero means no timeout).
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		dialer:     websocket.Dialer{HandshakeTimeout: timeout},
	}
}

func dial(network, addr string) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
}

// resolveHTTP turns (host, method) into the concrete URL and, for ipc hosts,
// a transport override that dials the shared unix socket.
func resolveHTTP(host, method string) (url string, dialCtx func(context.Context, string, string) (net.Conn, error), err error) {
	ep, err := parseURI(host)
	if err != nil {
		return "", nil, err
	}
	switch ep.scheme {
	case "tcp":
		return "http://" + ep.target + method, nil, nil
	case "ipc":
		return "http://unix" + method, dial("unix", socketPath(ep.target)), nil
	default:
		return "", nil, fmt.Errorf("amrpc: unsupported uri scheme in host %q", host)
	}
}

func resolveWS(host, method string) (url string, dialCtx func(context.Context, string, string) (net.Conn, error), err error) {
	ep, err := parseURI(host)
	if err != nil {
		return "", nil, err
	}
	switch ep.scheme {
	case "tcp":
		return "ws://" + ep.target + method, nil, nil
	case "ipc":
		return "ws://unix" + method, dial("unix", socketPath(ep.target)), nil
	default:
		return "", nil, fmt.Errorf("amrpc: unsupported uri scheme in host %q", host)
	}
}

// TransactUnary performs a single request/response exchange against
// host+method. Every call uses GET regardless of whether it carries a
// body, matching the probe-then-call shape RPC dispatch uses throughout
// this module.
func (c *Client) TransactUnary(ctx context.Context, host, method string, req *Request) (*Response, error) {
	url, dialCtx, err := resolveHTTP(host, method)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Header.Clone()

	client := c.httpClient
	if dialCtx != nil {
		client = &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: &http.Transport{DialContext: dialCtx},
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: resp.StatusCode,
		Reason: string(body),
		Header: resp.Header,
		Body:   body,
	}, nil
}

// TransactStream dials a streaming connection against host+method,
// sending header as the upgrade request's headers (typically carrying
// Sec-WebSocket-Protocol) and returning the resulting Session.
func (c *Client) TransactStream(ctx context.Context, host, method string, header http.Header) (Session, error) {
	url, dialCtx, err := resolveWS(host, method)
	if err != nil {
		return nil, err
	}

	dialer := c.dialer
	if dialCtx != nil {
		dialer.NetDialContext = dialCtx
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("amrpc: stream upgrade rejected: %s", resp.Status)
		}
		return nil, err
	}
	return newWSSession(conn), nil
}
