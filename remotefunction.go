package amrpc

import (
	"context"
	"net/http"
	"time"

	"github.com/qtcdxxyuc/amrpc/codec"
	"github.com/qtcdxxyuc/amrpc/transport"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultCallTimeout = 30 * time.Second

// rawRemoteFunction is the shared client-side machinery every typed
// RemoteFunction variant below builds on: a probe to check the method
// is registered, and a single call that negotiates Content-Type/Accept
// and maps the response status to an error.
type rawRemoteFunction struct {
	client *transport.Client
	host   string
	method string
}

// RemoteFunctionOption configures a client-side handle.
type RemoteFunctionOption func(*rawRemoteFunction)

// WithCallTimeout overrides the default 30s unary call timeout.
func WithCallTimeout(d time.Duration) RemoteFunctionOption {
	return func(r *rawRemoteFunction) { r.client = transport.NewClient(d) }
}

func newRawRemoteFunction(host, method string, opts ...RemoteFunctionOption) *rawRemoteFunction {
	r := &rawRemoteFunction{client: transport.NewClient(defaultCallTimeout), host: host, method: method}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rawRemoteFunction) enabled(ctx context.Context) error {
	header := make(http.Header, 1)
	header.Set(headerCheckEnabled, "1")
	resp, err := r.client.TransactUnary(ctx, r.host, r.method, &transport.Request{Header: header})
	if err != nil {
		return transportError(err)
	}
	return statusToError(resp.Status, resp.Reason)
}

func (r *rawRemoteFunction) call(ctx context.Context, typ codec.MessageType, body []byte) ([]byte, error) {
	header := mimeHeader(typ)
	header.Set("Connection", "close")
	resp, err := r.client.TransactUnary(ctx, r.host, r.method, &transport.Request{Header: header, Body: body})
	if err != nil {
		return nil, transportError(err)
	}
	if err := statusToError(resp.Status, resp.Reason); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func statusToError(status int, reason string) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrMethodNotFound
	case http.StatusInternalServerError:
		return serverError(reason)
	default:
		return unknownStatus(status)
	}
}

// StringFunction is a RemoteFunction specialized for string(string)
// calls, carried verbatim as TEXT.
type StringFunction struct{ raw *rawRemoteFunction }

// NewStringFunction builds a client handle for a TEXT RPC method.
func NewStringFunction(host, method string, opts ...RemoteFunctionOption) *StringFunction {
	return &StringFunction{raw: newRawRemoteFunction(host, method, opts...)}
}

// Enabled reports whether the remote method is currently registered.
func (f *StringFunction) Enabled(ctx context.Context) error { return f.raw.enabled(ctx) }

// Call invokes the remote method with arg and returns its result.
func (f *StringFunction) Call(ctx context.Context, arg string) (string, error) {
	res, err := f.raw.call(ctx, codec.TEXT, []byte(arg))
	if err != nil {
		return "", err
	}
	return string(res), nil
}

// BytesFunction is a RemoteFunction specialized for opaque byte
// payloads, carried verbatim as BIN.
type BytesFunction struct{ raw *rawRemoteFunction }

// NewBytesFunction builds a client handle for a BIN RPC method.
func NewBytesFunction(host, method string, opts ...RemoteFunctionOption) *BytesFunction {
	return &BytesFunction{raw: newRawRemoteFunction(host, method, opts...)}
}

// Enabled reports whether the remote method is currently registered.
func (f *BytesFunction) Enabled(ctx context.Context) error { return f.raw.enabled(ctx) }

// Call invokes the remote method with arg and returns its result.
func (f *BytesFunction) Call(ctx context.Context, arg []byte) ([]byte, error) {
	return f.raw.call(ctx, codec.BIN, arg)
}

// Function is a generic RemoteFunction: Req is marshaled to MessagePack
// as the call argument, Res is unmarshaled from the MessagePack result.
// Req and Res are ordinary Go structs, not a C-style positional argument
// tuple: multi-argument remote methods take a single Req struct whose
// fields are the arguments, which is the idiomatic Go shape for this.
type Function[Req, Res any] struct{ raw *rawRemoteFunction }

// NewFunction builds a client handle for a MSGPACK RPC method.
func NewFunction[Req, Res any](host, method string, opts ...RemoteFunctionOption) *Function[Req, Res] {
	return &Function[Req, Res]{raw: newRawRemoteFunction(host, method, opts...)}
}

// Enabled reports whether the remote method is currently registered.
func (f *Function[Req, Res]) Enabled(ctx context.Context) error { return f.raw.enabled(ctx) }

// Call invokes the remote method with req and returns its result.
func (f *Function[Req, Res]) Call(ctx context.Context, req Req) (Res, error) {
	var zero Res
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return zero, dataConvertError(err)
	}
	raw, err := f.raw.call(ctx, codec.MSGPACK, payload)
	if err != nil {
		return zero, err
	}
	var res Res
	if err := msgpack.Unmarshal(raw, &res); err != nil {
		return zero, dataConvertError(err)
	}
	return res, nil
}
