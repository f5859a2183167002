// Package acpfields extracts the handful of ACP fields the conductor core
// actually reads — sessionId, mcp_servers, meta.symposium.proxy,
// meta.mcp_acp_transport, permission option kinds, and stop reasons — from
// raw JSON-RPC params/results, without parsing the rest of the ACP payload
// (spec §6: "the core does NOT parse their payloads except to read...").
//
// Wire shapes are borrowed from github.com/coder/acp-go-sdk's type
// definitions so field names and JSON tags match the protocol exactly, but
// nothing here depends on acp-go-sdk's bundled connection/transport code —
// the engine in internal/jsonrpc owns the wire.
package acpfields

import (
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
)

// Meta is the nested capability-negotiation object carried on initialize
// requests/responses (spec §3 Capability metadata).
type Meta struct {
	Symposium *SymposiumMeta `json:"symposium,omitempty"`
	MCPACPTransport bool `json:"mcp_acp_transport,omitempty"`
}

// SymposiumMeta carries the "proxy" meta-capability and, on an initialize
// response, the names of any virtual MCP servers that component implements
// and wants advertised into downstream sessions (spec §4.6 step 1's "a
// parallel proxy-supplied list").
type SymposiumMeta struct {
	Proxy          bool     `json:"proxy,omitempty"`
	MCPServerNames []string `json:"mcp_server_names,omitempty"`
}

type withMeta struct {
	Meta *Meta `json:"_meta,omitempty"`
}

// InitializeMeta reads the `_meta` object from an initialize request or
// response body. A missing or malformed meta object yields a zero Meta.
func InitializeMeta(raw []byte) Meta {
	var m withMeta
	if err := json.Unmarshal(raw, &m); err != nil || m.Meta == nil {
		return Meta{}
	}
	return *m.Meta
}

// WithProxyMeta returns raw with `_meta.symposium.proxy` set to present,
// used by the conductor to annotate the initialize request sent to every
// non-terminal component (spec §4.5).
func WithProxyMeta(raw []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		obj = map[string]json.RawMessage{}
	}
	meta := InitializeMeta(raw)
	if meta.Symposium == nil {
		meta.Symposium = &SymposiumMeta{}
	}
	meta.Symposium.Proxy = true
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	obj["_meta"] = encoded
	return json.Marshal(obj)
}

// StripProxyMeta removes `_meta.symposium.proxy`, used by a component that
// terminally handles initialize rather than forwarding it onward.
func StripProxyMeta(raw []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw, nil
	}
	metaRaw, ok := obj["_meta"]
	if !ok {
		return raw, nil
	}
	var meta Meta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return raw, nil
	}
	meta.Symposium = nil
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	obj["_meta"] = encoded
	return json.Marshal(obj)
}

// HasProxyCapability reports whether _meta.symposium.proxy is set.
func HasProxyCapability(raw []byte) bool {
	m := InitializeMeta(raw)
	return m.Symposium != nil && m.Symposium.Proxy
}

// HasMCPACPTransport reports whether an initialize response declares it can
// receive MCP requests tunneled as ACP extension messages.
func HasMCPACPTransport(raw []byte) bool {
	return InitializeMeta(raw).MCPACPTransport
}

// DeclaredMCPServerNames returns the virtual MCP server names a component
// declared on its initialize response, if any.
func DeclaredMCPServerNames(raw []byte) []string {
	m := InitializeMeta(raw)
	if m.Symposium == nil {
		return nil
	}
	return m.Symposium.MCPServerNames
}

type withSessionID struct {
	SessionID string `json:"sessionId"`
}

// SessionID extracts the sessionId field common to session/prompt,
// session/cancel, session/update and friends. Returns "" if absent.
func SessionID(raw []byte) string {
	var v withSessionID
	_ = json.Unmarshal(raw, &v)
	return v.SessionID
}

type withMCPServers struct {
	MCPServers []acp.McpServer `json:"mcp_servers"`
}

// MCPServers extracts the mcp_servers list from a session/new request.
func MCPServers(raw []byte) []acp.McpServer {
	var v withMCPServers
	_ = json.Unmarshal(raw, &v)
	return v.MCPServers
}

// MCPServerName returns the server's name regardless of which transport
// variant (stdio/sse/http) it was declared with.
func MCPServerName(s acp.McpServer) string {
	switch {
	case s.Stdio != nil:
		return s.Stdio.Name
	case s.Sse != nil:
		return s.Sse.Name
	case s.Http != nil:
		return s.Http.Name
	default:
		return ""
	}
}

// StdioMCPServer builds a stdio MCP server descriptor pointing at the
// conductor binary in "mcp bridge" mode: `<self> mcp <port>` (spec §4.6).
func StdioMCPServer(name, self string, port int) acp.McpServer {
	return acp.McpServer{
		Stdio: &acp.McpServerStdio{
			Name:    name,
			Command: self,
			Args:    []string{"mcp", fmt.Sprintf("%d", port)},
		},
	}
}

// WithMCPServers returns raw with its mcp_servers field replaced, used by
// the MCP bridge spawner to rewrite virtual servers into stdio descriptors
// pointing at the conductor binary in "mcp bridge" mode (spec §4.6).
func WithMCPServers(raw []byte, servers []acp.McpServer) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(servers)
	if err != nil {
		return nil, err
	}
	obj["mcp_servers"] = encoded
	return json.Marshal(obj)
}

type withPermissionOptions struct {
	Options []acp.PermissionOption `json:"options"`
}

// PermissionOptionKinds extracts the option kinds from a
// session/request_permission request, used by the research sub-session
// auto-approver (spec §4.8) to pick an allow option without otherwise
// inspecting the request.
func PermissionOptionKinds(raw []byte) []acp.PermissionOption {
	var v withPermissionOptions
	_ = json.Unmarshal(raw, &v)
	return v.Options
}

type withStopReason struct {
	StopReason acp.StopReason `json:"stopReason"`
}

// StopReason extracts the stopReason field from a session/prompt response.
func StopReason(raw []byte) acp.StopReason {
	var v withStopReason
	_ = json.Unmarshal(raw, &v)
	return v.StopReason
}

type withSessionIDResult struct {
	SessionID string `json:"sessionId"`
}

// NewSessionID extracts the sessionId assigned by a session/new response.
func NewSessionID(raw []byte) string {
	var v withSessionIDResult
	_ = json.Unmarshal(raw, &v)
	return v.SessionID
}
