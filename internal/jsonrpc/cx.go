package jsonrpc

import (
	"context"
	"encoding/json"
)

// outgoingKind tags the variants of outgoingMessage, mirroring the
// original's OutgoingMessage enum.
type outgoingKind int

const (
	outRequest outgoingKind = iota
	outNotification
	outResponse
	outErrorNotification
)

// outgoingMessage is queued onto a Connection's outgoing channel; the
// outgoing goroutine is the only writer of the wire, per the engine's
// single-writer invariant.
type outgoingMessage struct {
	kind    outgoingKind
	method  string
	params  any
	id      ID
	result  any
	rerr    *Error
	replyCh chan replyResult // set only for kind == outRequest
}

// replyResult is what a pending outgoing request eventually receives.
type replyResult struct {
	value json.RawMessage
	err   *Error
}

// Cx is the capability to send messages over a Connection: outgoing
// requests (with a correlated reply), notifications, and error
// notifications. It is cheap to copy and safe for concurrent use. Once the
// connection has shut down, sends are silently dropped (SendRequest instead
// resolves immediately with a CommunicationFailure), matching the "sender
// dropped" behavior of the original's unbounded mpsc channel.
type Cx struct {
	outgoing chan outgoingMessage
	closed   <-chan struct{}
}

func newCx(outgoing chan outgoingMessage, closed <-chan struct{}) *Cx {
	return &Cx{outgoing: outgoing, closed: closed}
}

// PendingResponse is a not-yet-arrived reply to an outgoing request.
type PendingResponse struct {
	ch chan replyResult
}

// Recv blocks until the reply arrives, the context is cancelled, or the
// connection reports a communication failure (subprocess exited, stream
// closed) while this request was still pending.
func (p *PendingResponse) Recv(ctx context.Context) (json.RawMessage, error) {
	select {
	case r := <-p.ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		return nil, CommunicationFailure(ctx.Err().Error())
	}
}

// SendRequest sends method(params) to the peer and returns a handle for the
// eventual reply. The request ID is minted by the connection's outgoing
// goroutine, not by the caller — callers never observe outer/inner IDs
// directly (see internal/proxy for the one place that needs the ID).
func (cx *Cx) SendRequest(method string, params any) *PendingResponse {
	ch := make(chan replyResult, 1)
	msg := outgoingMessage{kind: outRequest, method: method, params: params, replyCh: ch}
	select {
	case cx.outgoing <- msg:
	case <-cx.closed:
		ch <- replyResult{err: CommunicationFailure("connection closed before request `" + method + "` could be sent")}
	}
	return &PendingResponse{ch: ch}
}

// SendNotification sends a fire-and-forget notification to the peer.
func (cx *Cx) SendNotification(method string, params any) {
	select {
	case cx.outgoing <- outgoingMessage{kind: outNotification, method: method, params: params}:
	case <-cx.closed:
	}
}

// SendErrorNotification emits a standalone JSON-RPC error object with no
// id, used to report protocol-level problems that cannot be tied to a
// request, such as an unclaimed notification (§4.3). Parse errors go
// through SendParseError instead.
func (cx *Cx) SendErrorNotification(rerr *Error) {
	select {
	case cx.outgoing <- outgoingMessage{kind: outErrorNotification, rerr: rerr}:
	case <-cx.closed:
	}
}

// SendParseError emits a response carrying an explicit "id":null, as
// JSON-RPC 2.0 requires for a request that could not be parsed far enough to
// recover its own id (malformed JSON, or a shape matching none of
// request/notification/response). This is distinct from
// SendErrorNotification, which omits the id member entirely and is only
// correct for errors with no associated request at all.
func (cx *Cx) SendParseError(rerr *Error) {
	cx.sendResponse(ID{}, nil, rerr)
}

func (cx *Cx) sendResponse(id ID, result any, rerr *Error) {
	select {
	case cx.outgoing <- outgoingMessage{kind: outResponse, id: id, result: result, rerr: rerr}:
	case <-cx.closed:
	}
}
