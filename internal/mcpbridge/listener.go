package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"golang.org/x/time/rate"
)

// Listener owns the loopback TCP listener for one virtual MCP server. Spec
// §3 guarantees exactly one listener/port per descriptor; §4.6 "a second
// connection preempts the first" means at most one active conn at a time,
// with a fresh Accept simply replacing whatever came before.
type Listener struct {
	ln     net.Listener
	vs     *VirtualServer
	router *Router
	logger *slog.Logger

	// acceptLimiter bounds how fast repeated reconnects are serviced,
	// standing in for internal/defense's scanner-rate heuristics on a
	// listener that, unlike a public HTTP port, expects a handful of
	// reconnects at most (spec §4.6's reconnect-with-backoff bridge client).
	acceptLimiter *rate.Limiter

	mu      sync.Mutex
	current net.Conn

	closed chan struct{}
}

func newListener(ln net.Listener, vs *VirtualServer, router *Router, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	vs.LocalPort = ln.Addr().(*net.TCPAddr).Port
	return &Listener{
		ln:            ln,
		vs:            vs,
		router:        router,
		logger:        logger,
		acceptLimiter: rate.NewLimiter(rate.Every(10*time.Millisecond), 5),
		closed:        make(chan struct{}),
	}
}

// Port returns the bound loopback port.
func (l *Listener) Port() int { return l.vs.LocalPort }

// Serve starts the accept loop in the background.
func (l *Listener) Serve() {
	go l.acceptLoop()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
				l.logger.Warn("mcp bridge listener accept failed", "server", l.vs.Name, "error", err)
				return
			}
		}
		_ = l.acceptLimiter.Wait(context.Background())
		l.preempt(conn)
	}
}

// preempt closes any existing connection for this virtual server and
// switches to the new one.
func (l *Listener) preempt(conn net.Conn) {
	l.mu.Lock()
	if l.current != nil {
		l.logger.Info("mcp bridge connection preempted", "server", l.vs.Name)
		l.current.Close()
	}
	l.current = conn
	l.mu.Unlock()

	go l.serveConn(conn)
}

func (l *Listener) serveConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			l.handleLine(conn, line)
		}
		if err != nil {
			return
		}
	}
}

// handleLine decodes one line from the MCP client as a JSON-RPC message using
// the upstream SDK's own wire types (github.com/modelcontextprotocol/go-sdk/jsonrpc)
// rather than a hand-rolled envelope struct, so the same `*jsonrpc.Request`
// shape this listener accepts is the one a real MCP client actually emits.
func (l *Listener) handleLine(conn net.Conn, line []byte) {
	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		l.logger.Warn("mcp bridge received invalid JSON", "server", l.vs.Name, "error", err)
		return
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		l.logger.Warn("mcp bridge received a non-request message", "server", l.vs.Name, "type", msg)
		return
	}

	if req.ID == (jsonrpc.ID{}) {
		l.router.Notify(l.vs.ConnectionID, req.Method, json.RawMessage(req.Params))
		return
	}

	go func() {
		result, err := l.router.Request(context.Background(), l.vs.ConnectionID, req.Method, json.RawMessage(req.Params))
		var encoded []byte
		if err != nil {
			encoded, err = json.Marshal(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32603, "message": err.Error()},
			})
			if err != nil {
				return
			}
		} else {
			encoded, err = jsonrpc.EncodeMessage(&jsonrpc.Response{ID: req.ID, Result: result})
			if err != nil {
				return
			}
		}
		encoded = append(encoded, '\n')
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.current != conn {
			return // a later connection has already preempted this one
		}
		_, _ = conn.Write(encoded)
	}()
}

// Close shuts down the listener and any active connection.
func (l *Listener) Close() {
	close(l.closed)
	l.ln.Close()
	l.mu.Lock()
	if l.current != nil {
		l.current.Close()
	}
	l.mu.Unlock()
}
