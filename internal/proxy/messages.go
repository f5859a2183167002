// Package proxy implements the wrapping layer that lets a proxy component
// address its downstream neighbour through the conductor rather than
// directly (§4.4): `_proxy/successor/send/*` (proxy → conductor → successor)
// and `_proxy/successor/receive/*` (successor → conductor → proxy). Outer
// IDs (proxy↔conductor) and inner IDs (the logical editor↔agent
// conversation) are decoupled; proxies never observe outer IDs.
package proxy

import (
	"encoding/json"

	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

const (
	// SendRequestMethod is emitted by a proxy asking the conductor to
	// forward a request to its successor.
	SendRequestMethod = "_proxy/successor/send/request"
	// SendNotificationMethod is the notification analogue of SendRequestMethod.
	SendNotificationMethod = "_proxy/successor/send/notification"
	// ReceiveRequestMethod is emitted by the conductor to deliver a request
	// originating from a proxy's successor.
	ReceiveRequestMethod = "_proxy/successor/receive/request"
	// ReceiveNotificationMethod is the notification analogue of ReceiveRequestMethod.
	ReceiveNotificationMethod = "_proxy/successor/receive/notification"
)

// sendParams is the body of `_proxy/successor/send/{request,notification}`.
type sendParams struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// sendReply is the body the conductor replies to a send/request with.
type sendReply struct {
	Message json.RawMessage `json:"message"`
}

// innerRequest is the embedded request describing the message the
// conductor is delivering to the proxy.
type innerRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     *jsonrpc.ID     `json:"id,omitempty"`
}

type receiveRequestParams struct {
	Request innerRequest `json:"request"`
}

type innerNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type receiveNotificationParams struct {
	Notification innerNotification `json:"notification"`
}

// innerResponse is the embedded response the proxy returns when resolving a
// delivered request.
type innerResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
	ID     *jsonrpc.ID     `json:"id,omitempty"`
}

type receiveReply struct {
	Message innerResponse `json:"message"`
}
