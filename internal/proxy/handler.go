package proxy

import (
	"context"
	"encoding/json"

	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

// ForwardRequestFunc forwards an inner request, unwrapped from a proxy's
// send/request, to the hop's successor and returns the successor's result
// (or an RPC error).
type ForwardRequestFunc func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error)

// ForwardNotificationFunc is the notification analogue of ForwardRequestFunc.
type ForwardNotificationFunc func(ctx context.Context, method string, params json.RawMessage)

// SendHandler returns a jsonrpc.Handler installed on the conductor's side of
// a proxy↔conductor Connection, claiming `_proxy/successor/send/*`: it
// unwraps the inner message, rewraps the RequestCx so the conductor's own
// routing sees the plain inner method (§3 RequestCx.wrap_method), forwards
// via the supplied callbacks, and wraps the successor's reply as
// `{message: result}` before replying to the proxy.
func SendHandler(forwardRequest ForwardRequestFunc, forwardNotification ForwardNotificationFunc) jsonrpc.Handler {
	return &sendHandler{forwardRequest: forwardRequest, forwardNotification: forwardNotification}
}

type sendHandler struct {
	forwardRequest      ForwardRequestFunc
	forwardNotification ForwardNotificationFunc
}

func (h *sendHandler) HandleRequest(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) (bool, error) {
	if method != SendRequestMethod {
		return false, nil
	}
	innerMethod, innerParams, err := DecodeSend(params)
	if err != nil {
		rcx.RespondWithError(jsonrpc.InvalidParams(err.Error()))
		return true, nil
	}

	inner := rcx.Rewrap(innerMethod)
	// Forwarding blocks on the successor's reply, which can take arbitrarily
	// long; run it off the incoming loop so this connection can keep
	// dispatching other in-flight messages meanwhile (§4.2).
	go func() {
		result, rerr := h.forwardRequest(ctx, innerMethod, innerParams)
		if rerr != nil {
			inner.RespondWithError(rerr)
			return
		}
		wrapped, err := EncodeSendReply(result)
		if err != nil {
			inner.RespondWithError(jsonrpc.InternalError())
			return
		}
		inner.Respond(json.RawMessage(wrapped))
	}()
	return true, nil
}

func (h *sendHandler) HandleNotification(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) (bool, error) {
	if method != SendNotificationMethod {
		return false, nil
	}
	innerMethod, innerParams, err := DecodeSend(params)
	if err != nil {
		return true, nil
	}
	h.forwardNotification(ctx, innerMethod, innerParams)
	return true, nil
}

// HopWrapper is the conductor-side handle for delivering messages that
// originate from a proxy's successor back to that proxy, wrapped as
// `_proxy/successor/receive/*` (§4.4 "Receiving from successor").
type HopWrapper struct {
	cx *jsonrpc.Cx
}

// NewHopWrapper wraps the Cx of the conductor's connection to a proxy
// component.
func NewHopWrapper(cx *jsonrpc.Cx) *HopWrapper {
	return &HopWrapper{cx: cx}
}

// DeliverRequest wraps method(params) as `_proxy/successor/receive/request`,
// sends it to the proxy, and unwraps the proxy's `{message: {result|error}}`
// reply back into a plain inner result.
func (h *HopWrapper) DeliverRequest(ctx context.Context, method string, params json.RawMessage, id jsonrpc.ID) (json.RawMessage, *jsonrpc.Error) {
	wrappedParams, err := EncodeReceiveRequest(method, params, id)
	if err != nil {
		return nil, jsonrpc.InternalError()
	}
	pending := h.cx.SendRequest(ReceiveRequestMethod, json.RawMessage(wrappedParams))
	raw, recvErr := pending.Recv(ctx)
	if recvErr != nil {
		if rerr, ok := recvErr.(*jsonrpc.Error); ok {
			return nil, rerr
		}
		return nil, jsonrpc.CommunicationFailure(recvErr.Error())
	}
	result, rerr, decErr := DecodeReceiveReply(raw)
	if decErr != nil {
		return nil, jsonrpc.InternalError()
	}
	return result, rerr
}

// DeliverNotification wraps method(params) as
// `_proxy/successor/receive/notification` and sends it to the proxy.
func (h *HopWrapper) DeliverNotification(method string, params json.RawMessage) {
	wrappedParams, err := EncodeReceiveNotification(method, params)
	if err != nil {
		return
	}
	h.cx.SendNotification(ReceiveNotificationMethod, json.RawMessage(wrappedParams))
}
