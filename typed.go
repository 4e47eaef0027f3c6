package amrpc

import (
	"context"
	"encoding/json"
	"reflect"
	"runtime"

	"github.com/qtcdxxyuc/amrpc/codec"
	"github.com/vmihailenco/msgpack/v5"
)

// funcName returns the qualified name of the handler being registered,
// for the /debug/reflection endpoint. Closures come back with a
// synthetic name like pkg.caller.func1; that is still informative
// enough to tell which registration site produced them.
func funcName(fn interface{}) string {
	v := reflect.ValueOf(fn)
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "unknown"
	}
	return rf.Name()
}

// callerName names the function that registered a Publish topic. There
// is no handler value to introspect for a topic declaration, so this
// walks the call stack instead of reflecting on a function argument.
func callerName() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}

// AddRPCString registers a TEXT RPC method carrying its argument and
// result as plain strings, with no conversion beyond the identity
// wire form.
func (s *Server) AddRPCString(method string, fn func(context.Context, string) (string, error)) error {
	return s.addRawRPC(methodInfo{typ: codec.TEXT, method: method, funcName: funcName(fn)}, func(ctx context.Context, body []byte) ([]byte, error) {
		res, err := fn(ctx, string(body))
		if err != nil {
			return nil, err
		}
		return []byte(res), nil
	})
}

// AddRPCBytes registers a BIN RPC method carrying its argument and
// result as opaque byte strings.
func (s *Server) AddRPCBytes(method string, fn func(context.Context, []byte) ([]byte, error)) error {
	return s.addRawRPC(methodInfo{typ: codec.BIN, method: method, funcName: funcName(fn)}, fn)
}

// AddRPCJSON registers a TEXT RPC method whose argument and result are
// arbitrary JSON values.
func (s *Server) AddRPCJSON(method string, fn func(context.Context, json.RawMessage) (interface{}, error)) error {
	return s.addRawRPC(methodInfo{typ: codec.TEXT, method: method, funcName: funcName(fn)}, func(ctx context.Context, body []byte) ([]byte, error) {
		res, err := fn(ctx, json.RawMessage(body))
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
}

// AddRPC registers a MSGPACK RPC method whose argument and result are
// Go values of type Req and Res, marshaled through MessagePack. A
// failure to unpack the incoming request is reported as a bad-request
// Exception rather than propagated as a generic decode error.
func AddRPC[Req, Res any](s *Server, method string, fn func(context.Context, Req) (Res, error)) error {
	return s.addRawRPC(methodInfo{typ: codec.MSGPACK, method: method, funcName: funcName(fn)}, func(ctx context.Context, body []byte) ([]byte, error) {
		var req Req
		if err := msgpack.Unmarshal(body, &req); err != nil {
			return nil, wrapException(err, "bad rpc request")
		}
		res, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return msgpack.Marshal(res)
	})
}

// AddPublishString declares a TEXT Publish topic. queueSize bounds how
// many pending messages a subscriber may accumulate before it is
// evicted as a slow consumer.
func (s *Server) AddPublishString(method string, queueSize uint) error {
	return s.addRawPublish(methodInfo{typ: codec.TEXT, method: method, funcName: callerName()}, queueSize)
}

// AddPublishBytes declares a BIN Publish topic.
func (s *Server) AddPublishBytes(method string, queueSize uint) error {
	return s.addRawPublish(methodInfo{typ: codec.BIN, method: method, funcName: callerName()}, queueSize)
}

// AddPublishJSON declares a TEXT Publish topic whose messages are
// arbitrary JSON values.
func (s *Server) AddPublishJSON(method string, queueSize uint) error {
	return s.addRawPublish(methodInfo{typ: codec.TEXT, method: method, funcName: callerName()}, queueSize)
}

// AddPublish declares a MSGPACK Publish topic carrying values of type T.
func AddPublish[T any](s *Server, method string, queueSize uint) error {
	return s.addRawPublish(methodInfo{typ: codec.MSGPACK, method: method, funcName: callerName()}, queueSize)
}

// PublishString fans msg out to every current subscriber of a TEXT
// Publish topic.
func (s *Server) PublishString(method, msg string) error {
	return s.rawPublish(method, codec.TEXT, []byte(msg))
}

// PublishBytes fans msg out to every current subscriber of a BIN
// Publish topic.
func (s *Server) PublishBytes(method string, msg []byte) error {
	return s.rawPublish(method, codec.BIN, msg)
}

// PublishJSON fans msg out to every current subscriber of a TEXT
// Publish topic, marshaling msg as JSON first.
func (s *Server) PublishJSON(method string, msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return dataConvertError(err)
	}
	return s.rawPublish(method, codec.TEXT, b)
}

// Publish fans msg out to every current subscriber of a MSGPACK
// Publish topic of type T.
func Publish[T any](s *Server, method string, msg T) error {
	b, err := msgpack.Marshal(msg)
	if err != nil {
		return dataConvertError(err)
	}
	return s.rawPublish(method, codec.MSGPACK, b)
}
