package amrpc

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/qtcdxxyuc/amrpc/codec"
	"github.com/qtcdxxyuc/amrpc/transport"
	"github.com/vmihailenco/msgpack/v5"
)

// PullerOption configures a client-side subscription handle.
type PullerOption func(*pullerConfig)

type pullerConfig struct {
	client *transport.Client
}

// WithPullerCallTimeout overrides the default unbounded timeout on the
// handshake that opens a Puller's stream.
func WithPullerCallTimeout(d time.Duration) PullerOption {
	return func(c *pullerConfig) { c.client = transport.NewClient(d) }
}

func newPullerConfig(opts ...PullerOption) *pullerConfig {
	c := &pullerConfig{client: transport.NewClient(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rawPuller drives the read loop shared by every typed Puller variant:
// open the stream with the right sub-protocol negotiated, then decode
// and deliver each frame until the handler or the connection gives up.
type rawPuller struct {
	session transport.Session
}

// IsOpen reports whether the Puller holds a stream session. It does not
// track the connection: it stays true after Close and after the read
// loop has ended. It is meant for diagnostics, not for gating a Call.
func (p *rawPuller) IsOpen() bool { return p.session != nil }

// Close tears down the subscription.
func (p *rawPuller) Close() error {
	if p.session == nil {
		return nil
	}
	return p.session.Close()
}

func openPuller(ctx context.Context, cfg *pullerConfig, host, method string, typ codec.MessageType, deliver func(raw []byte, err error) (keepGoing bool)) (*rawPuller, error) {
	header := make(http.Header, 1)
	header.Set(headerSubProtocol, typ.SubProtocol())

	session, err := cfg.client.TransactStream(ctx, host, method, header)
	if err != nil {
		return nil, transportError(err)
	}

	p := &rawPuller{session: session}
	// The read loop blocks for the life of the subscription, so it gets
	// its own goroutine rather than a shared executor's single worker;
	// a blocking task there would starve every other client call.
	go runHandleLoop(session, deliver)
	return p, nil
}

// runHandleLoop reads frames until the handler asks to stop or the
// session fails, timing each handler invocation against the same
// slow-callback diagnostic threshold the server dispatcher uses.
func runHandleLoop(session transport.Session, deliver func(raw []byte, err error) (keepGoing bool)) {
	for {
		raw, err := session.Read()
		start := time.Now()
		keepGoing := deliver(raw, err)
		if elapsed := time.Since(start); elapsed > slowCallbackThreshold {
			log.Printf("amrpc: puller handler ran %v, exceeding the %v diagnostic threshold", elapsed, slowCallbackThreshold)
		}
		if err != nil || !keepGoing {
			_ = session.Close()
			return
		}
	}
}

// StringPuller subscribes to a TEXT Publish topic.
type StringPuller struct{ raw *rawPuller }

// PullString subscribes to method on host, delivering each published
// value to handler until it returns false or the subscription ends.
func PullString(ctx context.Context, host, method string, handler func(value string, err error) bool, opts ...PullerOption) (*StringPuller, error) {
	cfg := newPullerConfig(opts...)
	raw, err := openPuller(ctx, cfg, host, method, codec.TEXT, func(b []byte, err error) bool {
		if err != nil {
			return handler("", err)
		}
		return handler(string(b), nil)
	})
	if err != nil {
		return nil, err
	}
	return &StringPuller{raw: raw}, nil
}

func (p *StringPuller) IsOpen() bool { return p.raw.IsOpen() }
func (p *StringPuller) Close() error { return p.raw.Close() }

// BytesPuller subscribes to a BIN Publish topic.
type BytesPuller struct{ raw *rawPuller }

// PullBytes subscribes to method on host, delivering each published
// value to handler until it returns false or the subscription ends.
func PullBytes(ctx context.Context, host, method string, handler func(value []byte, err error) bool, opts ...PullerOption) (*BytesPuller, error) {
	cfg := newPullerConfig(opts...)
	raw, err := openPuller(ctx, cfg, host, method, codec.BIN, func(b []byte, err error) bool {
		return handler(b, err)
	})
	if err != nil {
		return nil, err
	}
	return &BytesPuller{raw: raw}, nil
}

func (p *BytesPuller) IsOpen() bool { return p.raw.IsOpen() }
func (p *BytesPuller) Close() error { return p.raw.Close() }

// Puller subscribes to a MSGPACK Publish topic of type T.
type Puller[T any] struct{ raw *rawPuller }

// Pull subscribes to method on host, decoding each published value as
// T and delivering it to handler until it returns false or the
// subscription ends.
func Pull[T any](ctx context.Context, host, method string, handler func(value T, err error) bool, opts ...PullerOption) (*Puller[T], error) {
	cfg := newPullerConfig(opts...)
	raw, err := openPuller(ctx, cfg, host, method, codec.MSGPACK, func(b []byte, err error) bool {
		var zero T
		if err != nil {
			return handler(zero, err)
		}
		var v T
		if uerr := msgpack.Unmarshal(b, &v); uerr != nil {
			return handler(zero, dataConvertError(uerr))
		}
		return handler(v, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Puller[T]{raw: raw}, nil
}

func (p *Puller[T]) IsOpen() bool { return p.raw.IsOpen() }
func (p *Puller[T]) Close() error { return p.raw.Close() }
