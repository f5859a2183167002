package mcpbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"github.com/symposium-dev/symposium-conductor/internal/acpfields"
)

// Spawner implements spec §4.6 steps 1-2: for every mcp_servers entry a
// session/new forwards to the terminal hop that matches a proxy-declared
// virtual server, allocate a loopback TCP listener and rewrite the entry
// into a stdio descriptor pointing at the conductor binary in bridge mode.
type Spawner struct {
	selfPath string
	router   *Router
	logger   *slog.Logger

	mu       sync.Mutex
	declared map[string]int // virtual server name -> declaring hop index
	listeners map[string]*Listener
}

// NewSpawner builds a Spawner for a chain whose declared virtual servers are
// known (collected via conductor.Conductor.DeclaredMCPServers after Start).
func NewSpawner(selfPath string, declared map[string]int, request RequestHop, notify NotifyHop, logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	d := make(map[string]int, len(declared))
	for k, v := range declared {
		d[k] = v
	}
	return &Spawner{
		selfPath:  selfPath,
		router:    newRouter(request, notify, logger),
		logger:    logger,
		declared:  d,
		listeners: make(map[string]*Listener),
	}
}

// Rewrite matches the conductor.SessionNewRewriter shape: `func(ctx
// context.Context, sessionNewParams []byte) ([]byte, error)`. Pass
// spawner.Rewrite directly as a conductor.Config.MCPRewriter value.
func (s *Spawner) Rewrite(ctx context.Context, params []byte) ([]byte, error) {
	servers := acpfields.MCPServers(params)
	rewritten := make([]acp.McpServer, 0, len(servers))
	for _, srv := range servers {
		name := acpfields.MCPServerName(srv)
		hopIndex, isVirtual := s.declared[name]
		if !isVirtual {
			rewritten = append(rewritten, srv)
			continue
		}
		l, err := s.listenerFor(name, hopIndex)
		if err != nil {
			return nil, fmt.Errorf("allocate virtual mcp server %q: %w", name, err)
		}
		rewritten = append(rewritten, acpfields.StdioMCPServer(name, s.selfPath, l.Port()))
	}
	return acpfields.WithMCPServers(params, rewritten)
}

func (s *Spawner) listenerFor(name string, hopIndex int) (*Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[name]; ok {
		return l, nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	vs := s.router.Connect(name, hopIndex)
	l := newListener(ln, vs, s.router, s.logger)
	s.listeners[name] = l
	l.Serve()
	return l, nil
}

// Close shuts down every listener this spawner allocated.
func (s *Spawner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, l := range s.listeners {
		l.Close()
		s.router.Disconnect(l.vs.ConnectionID)
		delete(s.listeners, name)
	}
}
