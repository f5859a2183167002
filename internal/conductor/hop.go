package conductor

import (
	"context"
	"log/slog"

	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

// hop is one chain position: its component, the jsonrpc.Connection wrapping
// its streams, and the role it plays for routing purposes (§3 "Chain
// position": position 0 is nearest the editor, position N-1 is terminal).
type hop struct {
	index     int
	component Component
	conn      *jsonrpc.Connection
	logger    *slog.Logger

	isEditor   bool // index == 0
	isTerminal bool // index == len(hops)-1
	forwardedProxyCapability bool // response to initialize echoed "proxy" (non-editor, non-terminal hops only)
	mcpACPTransport          bool // response to initialize declared mcp_acp_transport (terminal hop only)
	declaredMCPServers       []string // virtual MCP server names declared on this hop's initialize response

	serveErr chan error
}

func (h *hop) cx() *jsonrpc.Cx { return h.conn.Cx() }

// serve runs the hop's Connection in the background with the given
// handler, reporting completion on serveErr.
func (h *hop) serve(ctx context.Context, handler jsonrpc.Handler) {
	go func() {
		err := h.conn.Serve(ctx, handler)
		h.serveErr <- err
	}()
}
