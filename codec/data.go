// Package codec implements the BIN/TEXT/MSGPACK wire-form conversion matrix
// shared by the server dispatcher, the Distributor and the client handles.
//
// A Data value holds a message in whichever form it first arrived and
// converts lazily into the other forms on demand, memoizing each
// conversion so repeated View calls for the same form never redo work.
package codec

import (
	"fmt"
	"sync"
)

// MessageType names one of the three wire forms a message can travel as.
type MessageType int

const (
	// BIN is an opaque byte string. Every other form converts to BIN by
	// identity; nothing converts in from BIN.
	BIN MessageType = iota
	// TEXT is a UTF-8 JSON document.
	TEXT
	// MSGPACK is a MessagePack-encoded document.
	MSGPACK
)

func (t MessageType) String() string {
	switch t {
	case BIN:
		return "bin"
	case TEXT:
		return "text"
	case MSGPACK:
		return "msgpack"
	default:
		return fmt.Sprintf("messagetype(%d)", int(t))
	}
}

// MIME returns the Content-Type/Accept value a transport uses for t.
func (t MessageType) MIME() string {
	switch t {
	case TEXT:
		return "application/json"
	case MSGPACK:
		return "application/x-msgpack"
	default:
		return "application/octet-stream"
	}
}

// MIMEToType maps a Content-Type/Accept header value to a MessageType.
// Empty or unrecognized values resolve to BIN, matching the wire
// negotiation rule used throughout the dispatcher and client handles.
func MIMEToType(mime string) MessageType {
	switch mime {
	case "application/json":
		return TEXT
	case "application/x-msgpack":
		return MSGPACK
	default:
		return BIN
	}
}

// SubProtocol returns the WebSocket sub-protocol token negotiated for
// streaming connections of the given type.
func (t MessageType) SubProtocol() string {
	switch t {
	case TEXT:
		return "ecv_amrpc_text"
	case MSGPACK:
		return "ecv_amrpc_msgpack"
	default:
		return "ecv_amrpc_bin"
	}
}

// SubProtocolToType is the stream-side counterpart of MIMEToType.
func SubProtocolToType(proto string) MessageType {
	switch proto {
	case "ecv_amrpc_text":
		return TEXT
	case "ecv_amrpc_msgpack":
		return MSGPACK
	default:
		return BIN
	}
}

// ConvertError reports that a value could not be converted between two
// wire forms; From/To name the forms involved, Err the underlying cause.
type ConvertError struct {
	From, To MessageType
	Err      error
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("%s -> %s error: %s", e.From, e.To, e.Err)
}

func (e *ConvertError) Unwrap() error { return e.Err }

// Data holds a message in one native form and lazily, memoizingly,
// converts into the others. A Data is safe to share across subscribers
// that each want a different view of the same published value, which is
// exactly how the Distributor uses it: one Data per Publish call, many
// Views taken off of it concurrently.
type Data struct {
	mu sync.Mutex

	bin []byte

	textSet bool
	textOK  bool
	text    []byte

	msgpackSet bool
	msgpackOK  bool
	msgpack    []byte
}

// New wraps b, which was received or produced in form t.
func New(t MessageType, b []byte) *Data {
	d := &Data{bin: b}
	switch t {
	case TEXT:
		d.text, d.textSet, d.textOK = b, true, true
		d.msgpackOK = true
	case MSGPACK:
		d.msgpack, d.msgpackSet, d.msgpackOK = b, true, true
		d.textOK = true
	default:
		// BIN carries no structure, so it cannot be promoted to TEXT or
		// MSGPACK; only the identity BIN view is available.
	}
	return d
}

// View returns the byte representation of the message in form t,
// converting and memoizing the result the first time it is requested.
// Requesting BIN always succeeds: every form has an identity byte
// representation.
func (d *Data) View(t MessageType) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch t {
	case BIN:
		return d.bin, nil
	case TEXT:
		if d.textSet {
			return d.text, nil
		}
		if !d.textOK {
			return nil, &ConvertError{From: BIN, To: TEXT, Err: fmt.Errorf("bin values are not convertible to text")}
		}
		v, err := MsgpackToJSON(d.msgpack)
		if err != nil {
			d.textOK = false
			return nil, &ConvertError{From: MSGPACK, To: TEXT, Err: err}
		}
		d.text, d.textSet = v, true
		return v, nil
	case MSGPACK:
		if d.msgpackSet {
			return d.msgpack, nil
		}
		if !d.msgpackOK {
			return nil, &ConvertError{From: BIN, To: MSGPACK, Err: fmt.Errorf("bin values are not convertible to msgpack")}
		}
		v, err := JSONToMsgpack(d.text)
		if err != nil {
			d.msgpackOK = false
			return nil, &ConvertError{From: TEXT, To: MSGPACK, Err: err}
		}
		d.msgpack, d.msgpackSet = v, true
		return v, nil
	default:
		return nil, fmt.Errorf("codec: unknown message type %d", int(t))
	}
}

// Convert is the stateless convenience form of View: wrap b (received as
// from) and immediately extract the to representation. Converting to
// BIN is always the identity conversion, regardless of from, so it
// never touches the from/to matrix below it.
func Convert(from, to MessageType, b []byte) ([]byte, error) {
	if to == BIN {
		return b, nil
	}
	return New(from, b).View(to)
}
