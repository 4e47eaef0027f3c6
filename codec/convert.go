package codec

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// JSONToMsgpack decodes a JSON document and re-encodes it as MessagePack.
// Integers are always packed as signed 64-bit regardless of magnitude,
// matching the convention the dispatcher expects of every MSGPACK
// producer in this module.
func JSONToMsgpack(j []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return msgpack.Marshal(normalizeJSON(v))
}

// MsgpackToJSON decodes a MessagePack document and re-encodes it as
// JSON. MessagePack bin values (msgpack's raw-byte type) come back from
// the decoder as []byte, which encoding/json renders as a base64
// string, the same rule the reference implementation applies by hand.
func MsgpackToJSON(m []byte) ([]byte, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(m))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalizeMsgpack(v))
}

// normalizeJSON walks a json.Decoder-produced value tree, resolving
// json.Number into int64 or float64 so the msgpack encoder picks the
// right wire type instead of falling back to a generic string.
func normalizeJSON(v interface{}) interface{} {
	switch vv := v.(type) {
	case json.Number:
		if i, err := vv.Int64(); err == nil {
			return i
		}
		f, _ := vv.Float64()
		return f
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalizeJSON(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = normalizeJSON(val)
		}
		return out
	default:
		return vv
	}
}

// normalizeMsgpack walks a msgpack-decoded value tree so map keys and
// nested containers round-trip through encoding/json cleanly.
func normalizeMsgpack(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalizeMsgpack(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[toKeyString(k)] = normalizeMsgpack(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = normalizeMsgpack(val)
		}
		return out
	default:
		return vv
	}
}

func toKeyString(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	b, err := json.Marshal(k)
	if err != nil {
		return ""
	}
	return string(b)
}
