package mcpbridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

type mcpConnectParams struct {
	Name string `json:"name"`
}

type mcpConnectResult struct {
	ConnectionID string `json:"connectionId"`
}

// NativeHandler serves `_mcp/*` extension messages arriving from a terminal
// agent that declared mcp_acp_transport on its initialize response: no
// bridge subprocess is spawned, the agent speaks the extension protocol
// directly, and this handler is the conductor-side counterpart of Listener
// for that case (spec §4.6: "_mcp/connect ... used when the terminal hop
// does speak mcp_acp_transport natively and no TCP bridge is required").
// Chain it ahead of the terminal hop's upstream relay handler.
type NativeHandler struct {
	router   *Router
	declared map[string]int
}

// NewNativeHandler builds a handler for a chain's declared virtual servers
// (conductor.Conductor.DeclaredMCPServers), routing native `_mcp/*` traffic
// to the proxy hop that implements each one.
func NewNativeHandler(declared map[string]int, request RequestHop, notify NotifyHop, logger *slog.Logger) *NativeHandler {
	d := make(map[string]int, len(declared))
	for k, v := range declared {
		d[k] = v
	}
	return &NativeHandler{router: newRouter(request, notify, logger), declared: d}
}

func (h *NativeHandler) HandleRequest(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) (bool, error) {
	switch method {
	case methodMCPConnect:
		var p mcpConnectParams
		if err := json.Unmarshal(params, &p); err != nil {
			rcx.RespondWithError(jsonrpc.InvalidParams(err.Error()))
			return true, nil
		}
		hopIndex, ok := h.declared[p.Name]
		if !ok {
			rcx.RespondWithError(jsonrpc.InvalidParams("unknown mcp server " + p.Name))
			return true, nil
		}
		vs := h.router.Connect(p.Name, hopIndex)
		rcx.Respond(mcpConnectResult{ConnectionID: vs.ConnectionID})
		return true, nil

	case methodMCPRequest:
		var p mcpRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			rcx.RespondWithError(jsonrpc.InvalidParams(err.Error()))
			return true, nil
		}
		result, err := h.router.Request(ctx, p.ConnectionID, p.Method, p.Params)
		if err != nil {
			rcx.RespondWithError(jsonrpc.InternalError())
			return true, nil
		}
		rcx.Respond(json.RawMessage(result))
		return true, nil

	default:
		return false, nil
	}
}

func (h *NativeHandler) HandleNotification(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) (bool, error) {
	switch method {
	case methodMCPNotification:
		var p mcpNotificationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return true, nil
		}
		h.router.Notify(p.ConnectionID, p.Method, p.Params)
		return true, nil

	case methodMCPDisconnect:
		var p mcpDisconnectParams
		if err := json.Unmarshal(params, &p); err != nil {
			return true, nil
		}
		h.router.Disconnect(p.ConnectionID)
		return true, nil

	default:
		return false, nil
	}
}
