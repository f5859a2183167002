package mcpbridge

import (
	"context"

	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

// forwardingHandler chains to whatever NativeHandler get() currently
// returns, claiming nothing if it returns nil. It exists because
// conductor.Config.TerminalExtra must be supplied before conductor.New
// starts serving the terminal hop, while the NativeHandler itself can only
// be built afterward — once Conductor.Start has revealed whether the
// terminal hop declared mcp_acp_transport (spec §4.6).
type forwardingHandler struct {
	get func() *NativeHandler
}

// ForwardingHandler returns a jsonrpc.Handler suitable for
// conductor.Config.TerminalExtra whose real behavior is decided later: get
// is called on every message, so installing a NativeHandler any time after
// conductor.New takes effect immediately.
func ForwardingHandler(get func() *NativeHandler) jsonrpc.Handler {
	return &forwardingHandler{get: get}
}

func (h *forwardingHandler) HandleRequest(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) (bool, error) {
	native := h.get()
	if native == nil {
		return false, nil
	}
	return native.HandleRequest(ctx, method, params, rcx)
}

func (h *forwardingHandler) HandleNotification(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) (bool, error) {
	native := h.get()
	if native == nil {
		return false, nil
	}
	return native.HandleNotification(ctx, method, params, cx)
}
