package amrpc

import "fmt"

// Exception is the single error type amrpc returns across the RPC,
// Publish and Pull surfaces. Every failure category the protocol
// distinguishes (method not found, a failed handler, a value that
// could not be converted between wire forms, a malformed request, a
// transport failure) is reported as an *Exception with a message that
// names which one occurred. Callers that need to branch on the
// category should match on the sentinel errors below with errors.Is,
// or use errors.As to reach a wrapped *codec.ConvertError.
type Exception struct {
	msg string
	err error
}

func (e *Exception) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Exception) Unwrap() error { return e.err }

func newException(format string, args ...interface{}) *Exception {
	return &Exception{msg: fmt.Sprintf(format, args...)}
}

func wrapException(wrapped error, format string, args ...interface{}) *Exception {
	return &Exception{msg: fmt.Sprintf(format, args...), err: wrapped}
}

// ErrMethodNotFound is returned when a remote method does not exist, or
// is not currently registered, on the server addressed by a call.
var ErrMethodNotFound = &Exception{msg: "remote method not found"}

// ErrBadRequest names the bad-request category. No call in this package
// returns it: a MSGPACK request the server cannot unpack fails with a
// "bad rpc request" Exception that reaches the client as a server error.
var ErrBadRequest = &Exception{msg: "bad request"}

func serverError(reason string) *Exception {
	return newException("server error: %s", reason)
}

func unknownStatus(code int) *Exception {
	return newException("unknown status: %d", code)
}

func transportError(err error) *Exception {
	return wrapException(err, "transport error")
}

func dataConvertError(err error) *Exception {
	return wrapException(err, "data conversion error")
}
