package acpfields

import (
	"encoding/json"
	"testing"

	acp "github.com/coder/acp-go-sdk"
)

func TestProxyMetaRoundTrip(t *testing.T) {
	raw := []byte(`{"protocolVersion":1}`)

	withProxy, err := WithProxyMeta(raw)
	if err != nil {
		t.Fatalf("WithProxyMeta: %v", err)
	}
	if !HasProxyCapability(withProxy) {
		t.Fatalf("expected proxy capability present, got %s", withProxy)
	}

	stripped, err := StripProxyMeta(withProxy)
	if err != nil {
		t.Fatalf("StripProxyMeta: %v", err)
	}
	if HasProxyCapability(stripped) {
		t.Fatalf("expected proxy capability stripped, got %s", stripped)
	}
}

func TestHasMCPACPTransport(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"_meta":{"mcp_acp_transport":true}}`)
	if !HasMCPACPTransport(raw) {
		t.Fatalf("expected mcp_acp_transport true")
	}
	if HasMCPACPTransport([]byte(`{"protocolVersion":1}`)) {
		t.Fatalf("expected mcp_acp_transport false when absent")
	}
}

func TestSessionIDAndMCPServers(t *testing.T) {
	raw := []byte(`{"sessionId":"s1","mcp_servers":[{"stdio":{"name":"eg","command":"x","args":[]}}]}`)
	if got := SessionID(raw); got != "s1" {
		t.Errorf("SessionID = %q", got)
	}
	servers := MCPServers(raw)
	if len(servers) != 1 || MCPServerName(servers[0]) != "eg" {
		t.Errorf("MCPServers = %+v", servers)
	}
}

func TestWithMCPServersRewrite(t *testing.T) {
	raw := []byte(`{"sessionId":"s1","mcp_servers":[]}`)
	rewritten, err := WithMCPServers(raw, []acp.McpServer{StdioMCPServer("eg", "/bin/symposium", 4500)})
	if err != nil {
		t.Fatalf("WithMCPServers: %v", err)
	}
	var out struct {
		SessionID  string          `json:"sessionId"`
		MCPServers json.RawMessage `json:"mcp_servers"`
	}
	if err := json.Unmarshal(rewritten, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.SessionID != "s1" {
		t.Errorf("sessionId clobbered: %s", out.SessionID)
	}
}

func TestDeclaredMCPServerNames(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"_meta":{"symposium":{"proxy":true,"mcp_server_names":["eg"]}}}`)
	names := DeclaredMCPServerNames(raw)
	if len(names) != 1 || names[0] != "eg" {
		t.Errorf("DeclaredMCPServerNames = %v", names)
	}
	if got := DeclaredMCPServerNames([]byte(`{"protocolVersion":1}`)); got != nil {
		t.Errorf("expected nil when absent, got %v", got)
	}
}

func TestStopReason(t *testing.T) {
	raw := []byte(`{"stopReason":"end_turn"}`)
	if got := StopReason(raw); got != acp.StopReason("end_turn") {
		t.Errorf("StopReason = %q", got)
	}
}
