package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

// EncodeSend builds the params for `_proxy/successor/send/{request,notification}`:
// a proxy wrapping an inner message M to hand to the conductor.
func EncodeSend(method string, params json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(sendParams{Method: method, Params: params})
}

// DecodeSend reverses EncodeSend. Satisfies the proxy wrap law (§8):
// DecodeSend(EncodeSend(m, p)) == (m, p).
func DecodeSend(raw json.RawMessage) (method string, params json.RawMessage, err error) {
	var p sendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, fmt.Errorf("decode send params: %w", err)
	}
	return p.Method, p.Params, nil
}

// EncodeSendReply wraps a successor's response result as `{message: result}`,
// the reply the conductor sends back to the proxy's send/request.
func EncodeSendReply(result json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(sendReply{Message: result})
}

// DecodeSendReply reverses EncodeSendReply.
func DecodeSendReply(raw json.RawMessage) (json.RawMessage, error) {
	var r sendReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode send reply: %w", err)
	}
	return r.Message, nil
}

// EncodeReceiveRequest builds the params for `_proxy/successor/receive/request`:
// the conductor wrapping an inner request M (from this proxy's successor)
// to deliver to the proxy.
func EncodeReceiveRequest(method string, params json.RawMessage, id jsonrpc.ID) (json.RawMessage, error) {
	return json.Marshal(receiveRequestParams{Request: innerRequest{Method: method, Params: params, ID: &id}})
}

// DecodeReceiveRequest reverses EncodeReceiveRequest. Satisfies the proxy
// wrap law: DecodeReceiveRequest(EncodeReceiveRequest(m, p, id)) == (m, p, id).
func DecodeReceiveRequest(raw json.RawMessage) (method string, params json.RawMessage, id *jsonrpc.ID, err error) {
	var rp receiveRequestParams
	if err := json.Unmarshal(raw, &rp); err != nil {
		return "", nil, nil, fmt.Errorf("decode receive request params: %w", err)
	}
	return rp.Request.Method, rp.Request.Params, rp.Request.ID, nil
}

// EncodeReceiveNotification is the notification analogue of EncodeReceiveRequest.
func EncodeReceiveNotification(method string, params json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(receiveNotificationParams{Notification: innerNotification{Method: method, Params: params}})
}

// DecodeReceiveNotification reverses EncodeReceiveNotification.
func DecodeReceiveNotification(raw json.RawMessage) (method string, params json.RawMessage, err error) {
	var np receiveNotificationParams
	if err := json.Unmarshal(raw, &np); err != nil {
		return "", nil, fmt.Errorf("decode receive notification params: %w", err)
	}
	return np.Notification.Method, np.Notification.Params, nil
}

// EncodeReceiveReply wraps the proxy's resolution of a delivered request as
// `{message: {result, id?}}`, the reply the proxy sends back to the
// conductor's receive/request.
func EncodeReceiveReply(result json.RawMessage, rerr *jsonrpc.Error, id *jsonrpc.ID) (json.RawMessage, error) {
	return json.Marshal(receiveReply{Message: innerResponse{Result: result, Error: rerr, ID: id}})
}

// DecodeReceiveReply reverses EncodeReceiveReply.
func DecodeReceiveReply(raw json.RawMessage) (result json.RawMessage, rerr *jsonrpc.Error, err error) {
	var rr receiveReply
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, nil, fmt.Errorf("decode receive reply: %w", err)
	}
	return rr.Message.Result, rr.Message.Error, nil
}
