package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID is a JSON-RPC request identifier. It preserves whatever JSON scalar
// (string or number) it was decoded from, so it round-trips byte-for-byte,
// and is comparable so it can key a map.
type ID struct {
	raw string
}

// NewID mints a fresh string-valued ID, used for outgoing requests this
// process originates.
func NewID() ID {
	return ID{raw: `"` + uuid.NewString() + `"`}
}

// StringID wraps a caller-chosen string as an ID.
func StringID(s string) ID {
	data, _ := json.Marshal(s)
	return ID{raw: string(data)}
}

// Key returns a value suitable for use as a map key / comparison.
func (id ID) Key() string { return id.raw }

// IsZero reports whether this is the zero ID (absent from a message).
func (id ID) IsZero() bool { return id.raw == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == "" {
		return []byte("null"), nil
	}
	return []byte(id.raw), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	id.raw = string(data)
	return nil
}

func (id ID) String() string {
	var s string
	if json.Unmarshal([]byte(id.raw), &s) == nil {
		return s
	}
	return id.raw
}

// wireMessage is the on-the-wire envelope; a single struct can represent a
// request, a notification, or a response, disambiguated after decoding.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// kind classifies a decoded wireMessage.
type kind int

const (
	kindRequest kind = iota
	kindNotification
	kindResponse
	kindInvalid
)

func (m wireMessage) kind() kind {
	if m.Method != "" {
		if m.ID != nil {
			return kindRequest
		}
		return kindNotification
	}
	if m.Result != nil || m.Error != nil {
		return kindResponse
	}
	return kindInvalid
}

// Request is a decoded incoming (or outgoing) JSON-RPC request.
type Request struct {
	Method string
	Params json.RawMessage
	ID     ID
}

// Notification is a decoded JSON-RPC notification (a request with no ID).
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response is a decoded JSON-RPC response, success or error.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

// decodeLine parses one newline-delimited JSON-RPC message. The returned
// value is one of *Request, *Notification, *Response. A JSON syntax error
// or a message matching none of the three shapes both return a nil value and
// a non-nil error — callers reply with ParseError() either way per §4.1.
func decodeLine(line []byte) (any, error) {
	var m wireMessage
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("decode jsonrpc message: %w", err)
	}
	switch m.kind() {
	case kindRequest:
		return &Request{Method: m.Method, Params: m.Params, ID: *m.ID}, nil
	case kindNotification:
		return &Notification{Method: m.Method, Params: m.Params}, nil
	case kindResponse:
		var id ID
		if m.ID != nil {
			id = *m.ID
		}
		return &Response{ID: id, Result: m.Result, Error: m.Error}, nil
	default:
		return nil, fmt.Errorf("decode jsonrpc message: unrecognized shape")
	}
}

func encodeRequest(method string, params any, id ID) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{JSONRPC: "2.0", Method: method, Params: raw, ID: &id})
}

func encodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

func encodeResponse(id ID, result any, rerr *Error) ([]byte, error) {
	if rerr != nil {
		return json.Marshal(wireMessage{JSONRPC: "2.0", ID: &id, Error: rerr})
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode jsonrpc response: %w", err)
	}
	return json.Marshal(wireMessage{JSONRPC: "2.0", ID: &id, Result: raw})
}

func encodeErrorNotification(rerr *Error) ([]byte, error) {
	return json.Marshal(wireMessage{JSONRPC: "2.0", Error: rerr})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}
