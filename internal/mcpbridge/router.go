package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// RequestHop delivers method(params) to the given chain hop and waits for
// its reply. Satisfied by (*conductor.Conductor).RequestHop.
type RequestHop func(ctx context.Context, hopIndex int, method string, params any) (json.RawMessage, error)

// NotifyHop delivers method(params) to the given chain hop as a
// notification. Satisfied by (*conductor.Conductor).NotifyHop.
type NotifyHop func(hopIndex int, method string, params any)

const (
	methodMCPConnect      = "_mcp/connect"
	methodMCPRequest      = "_mcp/request"
	methodMCPNotification = "_mcp/notification"
	methodMCPDisconnect   = "_mcp/disconnect"
)

type mcpRequestParams struct {
	ConnectionID string          `json:"connectionId"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
}

type mcpNotificationParams struct {
	ConnectionID string          `json:"connectionId"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
}

type mcpDisconnectParams struct {
	ConnectionID string `json:"connectionId"`
}

// Router owns the connectionId → owning-hop map and translates raw MCP
// request/notification lines into `_mcp/*` ACP extension messages addressed
// to the proxy hop that declared the virtual server (spec §4.6
// "MCP-over-ACP methods").
type Router struct {
	request RequestHop
	notify  NotifyHop
	logger  *slog.Logger

	mu    sync.Mutex
	byID  map[string]*VirtualServer
}

func newRouter(request RequestHop, notify NotifyHop, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{request: request, notify: notify, logger: logger, byID: make(map[string]*VirtualServer)}
}

// Connect opens a logical channel for a virtual server, minting a fresh
// connectionId (spec §3 "exactly one TCP listener, one known port, per
// descriptor").
func (r *Router) Connect(name string, hopIndex int) *VirtualServer {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs := &VirtualServer{Name: name, ConnectionID: uuid.NewString(), HopIndex: hopIndex}
	r.byID[vs.ConnectionID] = vs
	return vs
}

// Disconnect closes the logical channel, notifying the owning hop.
func (r *Router) Disconnect(connectionID string) {
	r.mu.Lock()
	vs, ok := r.byID[connectionID]
	delete(r.byID, connectionID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.notify(vs.HopIndex, methodMCPDisconnect, mcpDisconnectParams{ConnectionID: connectionID})
}

// Request forwards an MCP request with the given method/params to the proxy
// hop owning connectionID, returning the MCP response payload.
func (r *Router) Request(ctx context.Context, connectionID, method string, params json.RawMessage) (json.RawMessage, error) {
	r.mu.Lock()
	vs, ok := r.byID[connectionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mcpbridge: unknown connection %q", connectionID)
	}
	return r.request(ctx, vs.HopIndex, methodMCPRequest, mcpRequestParams{
		ConnectionID: connectionID,
		Method:       method,
		Params:       params,
	})
}

// Notify forwards an MCP notification to the proxy hop owning connectionID.
func (r *Router) Notify(connectionID, method string, params json.RawMessage) {
	r.mu.Lock()
	vs, ok := r.byID[connectionID]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("mcp notification for unknown connection", "connectionId", connectionID)
		return
	}
	r.notify(vs.HopIndex, methodMCPNotification, mcpNotificationParams{
		ConnectionID: connectionID,
		Method:       method,
		Params:       params,
	})
}
