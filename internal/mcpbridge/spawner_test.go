package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
)

func TestSpawnerRewriteLeavesRealServersUntouched(t *testing.T) {
	declared := map[string]int{"eg": 1}
	s := NewSpawner("/bin/symposium", declared, nil, func(int, string, any) {}, slog.Default())

	params := []byte(`{"sessionId":"s1","mcp_servers":[{"stdio":{"name":"real","command":"/bin/real-mcp","args":[]}},{"stdio":{"name":"eg","command":"placeholder","args":[]}}]}`)

	rewritten, err := s.Rewrite(context.Background(), params)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	var out struct {
		MCPServers []struct {
			Stdio struct {
				Name    string   `json:"name"`
				Command string   `json:"command"`
				Args    []string `json:"args"`
			} `json:"stdio"`
		} `json:"mcp_servers"`
	}
	if err := json.Unmarshal(rewritten, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.MCPServers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(out.MCPServers))
	}
	if out.MCPServers[0].Stdio.Name != "real" || out.MCPServers[0].Stdio.Command != "/bin/real-mcp" {
		t.Errorf("real server mutated: %+v", out.MCPServers[0])
	}
	eg := out.MCPServers[1].Stdio
	if eg.Name != "eg" || eg.Command != "/bin/symposium" || len(eg.Args) != 2 || eg.Args[0] != "mcp" {
		t.Errorf("virtual server not rewritten to bridge descriptor: %+v", eg)
	}

	s.Close()
}

func TestSpawnerRewriteReusesListenerAcrossCalls(t *testing.T) {
	declared := map[string]int{"eg": 1}
	s := NewSpawner("/bin/symposium", declared, nil, func(int, string, any) {}, slog.Default())
	defer s.Close()

	params := []byte(`{"mcp_servers":[{"stdio":{"name":"eg","command":"x","args":[]}}]}`)

	first, err := s.Rewrite(context.Background(), params)
	if err != nil {
		t.Fatalf("Rewrite 1: %v", err)
	}
	second, err := s.Rewrite(context.Background(), params)
	if err != nil {
		t.Fatalf("Rewrite 2: %v", err)
	}

	portOf := func(raw []byte) int {
		var out struct {
			MCPServers []struct {
				Stdio struct {
					Args []string `json:"args"`
				} `json:"stdio"`
			} `json:"mcp_servers"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		var port int
		if _, err := fmt.Sscan(out.MCPServers[0].Stdio.Args[1], &port); err != nil {
			t.Fatalf("parse port: %v", err)
		}
		return port
	}

	if portOf(first) != portOf(second) {
		t.Errorf("expected stable port across rewrites, got %d and %d", portOf(first), portOf(second))
	}
}
