package jsonrpc

import "sync"

// RequestCx is the response capability for one incoming request: the
// engine handle (embedded Cx), the request's id, and the method name it
// arrived under (used by the proxy wrapping layer to re-present a wrapped
// request as a plain one — see internal/proxy). Resolving it twice is a
// no-op, guarded by a sync.Once, since a handler that races a cancellation
// against its own response must not double-reply.
type RequestCx struct {
	*Cx
	id       ID
	method   string
	resolved *sync.Once
}

func newRequestCx(cx *Cx, id ID, method string) *RequestCx {
	return &RequestCx{Cx: cx, id: id, method: method, resolved: &sync.Once{}}
}

// Method returns the method name this request arrived under.
func (r *RequestCx) Method() string { return r.method }

// ID returns the request's JSON-RPC id.
func (r *RequestCx) ID() ID { return r.id }

// Respond resolves the request successfully with the given payload.
func (r *RequestCx) Respond(result any) {
	r.resolved.Do(func() {
		r.sendResponse(r.id, result, nil)
	})
}

// RespondWithError resolves the request with a JSON-RPC error.
func (r *RequestCx) RespondWithError(err *Error) {
	r.resolved.Do(func() {
		r.sendResponse(r.id, nil, err)
	})
}

// RespondWithInternalError resolves the request with a generic internal
// error, used when a handler cannot otherwise classify its failure.
func (r *RequestCx) RespondWithInternalError() {
	r.RespondWithError(InternalError())
}

// Rewrap produces a RequestCx that targets the same outer id and engine but
// presents a different method tag — the proxy wrapping layer uses this to
// unwrap `_proxy/successor/receive/request` into an inner-view cx labelled
// with the inner method, per §4.4. Resolving the rewrapped cx resolves the
// original exactly once (they share the same sync.Once).
func (r *RequestCx) Rewrap(method string) *RequestCx {
	return &RequestCx{Cx: r.Cx, id: r.id, method: method, resolved: r.resolved}
}
