// Package conductor spawns an ordered chain of proxy components plus a
// terminal agent, routes every ACP message hop-by-hop in both directions,
// and implements the capability-injection and MCP server list rewriting
// described in spec §4.5/§4.6. It is the one place in this module that
// understands chain topology; everything else (the engine, the wrapping
// layer, the bridge) is a building block it composes.
package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/symposium-dev/symposium-conductor/internal/acpfields"
	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
	"github.com/symposium-dev/symposium-conductor/internal/proxy"
)

// ErrCapabilityMismatch is returned when a non-terminal hop fails to echo
// the "proxy" meta-capability on its initialize response, or a terminal hop
// echoes one it should have had none of — signalling a misconfigured chain
// (§4.4, §7).
var ErrCapabilityMismatch = errors.New("conductor: chain-order capability mismatch")

// SessionNewRewriter rewrites the mcp_servers field of a session/new
// request on its way to the terminal hop, installed by internal/mcpbridge
// when the chain needs bridging (§4.6). A nil rewriter (or one returning
// raw unchanged) leaves mcp_servers untouched.
type SessionNewRewriter func(ctx context.Context, sessionNewParams []byte) ([]byte, error)

// Config describes one chain to assemble.
type Config struct {
	// Editor is the hop-0 component: the conductor's own stdio, connected
	// to the editor.
	Editor Component
	// Components are the subprocess hops in chain order; the last one is
	// terminal (either a standalone agent, or a proxy acting as one).
	Components []Component
	Logger     *slog.Logger
	// MCPRewriter is consulted on every session/new forwarded to the
	// terminal hop. Optional.
	MCPRewriter SessionNewRewriter
	// GracePeriod bounds how long Shutdown waits for in-flight requests
	// before killing subprocesses (§4.5 "Shutdown ordering").
	GracePeriod time.Duration
	// TerminalExtra, when set, is chained ahead of the terminal hop's
	// upstream relay handler — used by internal/mcpbridge.NativeHandler to
	// claim `_mcp/*` extension messages before they'd otherwise be relayed
	// toward the editor (§4.6).
	TerminalExtra jsonrpc.Handler
}

// Conductor owns one assembled chain.
type Conductor struct {
	hops   []*hop
	logger *slog.Logger

	mcpRewriter   SessionNewRewriter
	gracePeriod   time.Duration
	terminalExtra jsonrpc.Handler

	mu           sync.Mutex
	sessions     map[string]struct{}
	shuttingDown bool // set by Shutdown so intentional kills don't report as component failures

	bridgeMode bool // true if the terminal hop lacks mcp_acp_transport
}

// New assembles the chain's Connections and handler chains but does not yet
// send initialize or begin serving — call Start for that.
func New(cfg Config) (*Conductor, error) {
	if cfg.Editor == nil {
		return nil, fmt.Errorf("conductor: editor component is required")
	}
	if len(cfg.Components) == 0 {
		return nil, fmt.Errorf("conductor: at least one downstream component is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = 2 * time.Second
	}

	all := append([]Component{cfg.Editor}, cfg.Components...)
	hops := make([]*hop, len(all))
	for i, comp := range all {
		hops[i] = &hop{
			index:      i,
			component:  comp,
			conn:       newHopConnection(comp),
			logger:     logger,
			isEditor:   i == 0,
			isTerminal: i == len(all)-1,
			serveErr:   make(chan error, 1),
		}
	}

	c := &Conductor{
		hops:          hops,
		logger:        logger,
		mcpRewriter:   cfg.MCPRewriter,
		gracePeriod:   grace,
		terminalExtra: cfg.TerminalExtra,
		sessions:      make(map[string]struct{}),
	}

	for _, h := range hops {
		h.serve(context.Background(), c.handlerFor(h))
	}
	for _, h := range hops[1:] {
		go c.watchComponentExit(h)
	}

	return c, nil
}

// watchComponentExit blocks on a non-editor hop's underlying subprocess and,
// if it exits non-zero, reports that as an error notification on the
// editor-facing connection rather than failing the chain outright (§4.5
// "Lifecycle and failure": reported, but does not retroactively fail prior
// successful messages). A kill triggered by Shutdown is expected and not
// reported.
func (c *Conductor) watchComponentExit(h *hop) {
	err := h.component.Wait()
	if err == nil {
		return
	}
	c.mu.Lock()
	shuttingDown := c.shuttingDown
	c.mu.Unlock()
	if shuttingDown {
		return
	}
	c.logger.Warn("component exited non-zero", "hop", h.index, "error", err)
	c.hops[0].cx().SendNotification("_conductor/component_exit", map[string]any{
		"hop":   h.index,
		"error": err.Error(),
	})
}

func (c *Conductor) handlerFor(h *hop) jsonrpc.Handler {
	switch {
	case h.isEditor:
		return c.downstreamRelayHandler(h.index + 1)
	case h.isTerminal:
		if c.terminalExtra != nil {
			return jsonrpc.Chain(c.terminalExtra, c.upstreamRelayHandler(h.index-1))
		}
		return c.upstreamRelayHandler(h.index - 1)
	default:
		send := proxy.SendHandler(
			func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
				return c.relayDownstream(ctx, h.index+1, method, params)
			},
			func(ctx context.Context, method string, params json.RawMessage) {
				c.relayDownstreamNotification(h.index+1, method, params)
			},
		)
		return jsonrpc.Chain(send, c.upstreamRelayHandler(h.index-1))
	}
}

// downstreamRelayHandler builds the handler for the editor hop: every
// message it sends is addressed to the next hop down the chain.
func (c *Conductor) downstreamRelayHandler(targetIndex int) jsonrpc.Handler {
	return jsonrpc.AllMessages(
		func(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) error {
			// Resolved from a spawned task, not inline: a session/prompt
			// forward can sit in flight for as long as the agent takes to
			// finish, and the incoming loop must stay free to read whatever
			// else arrives meanwhile (e.g. this same hop relaying a
			// permission check upstream) — §4.2 "Multiple in-flight
			// requests MUST be allowed".
			go func() {
				result, rerr := c.relayDownstream(ctx, targetIndex, method, params)
				if rerr != nil {
					rcx.RespondWithError(rerr)
					return
				}
				rcx.Respond(json.RawMessage(result))
			}()
			return nil
		},
		func(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) error {
			c.relayDownstreamNotification(targetIndex, method, params)
			return nil
		},
	)
}

// upstreamRelayHandler builds the handler for the terminal hop, and the
// "everything but send/*" half of a proxy hop: every message it originates
// is addressed to the previous hop up the chain.
func (c *Conductor) upstreamRelayHandler(targetIndex int) jsonrpc.Handler {
	return jsonrpc.AllMessages(
		func(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) error {
			go func() {
				result, rerr := c.relayUpstream(ctx, targetIndex, method, params, rcx.ID())
				if rerr != nil {
					rcx.RespondWithError(rerr)
					return
				}
				rcx.Respond(json.RawMessage(result))
			}()
			return nil
		},
		func(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) error {
			c.relayUpstreamNotification(targetIndex, method, params)
			return nil
		},
	)
}

// relayDownstream sends method(params) as a plain request to hops[targetIndex],
// applying session bookkeeping and MCP server rewriting when that hop is
// the terminal one (§4.5 Routing, §4.6 Per-session injection).
func (c *Conductor) relayDownstream(ctx context.Context, targetIndex int, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	target := c.hops[targetIndex]

	if target.isTerminal && method == "session/new" && c.mcpRewriter != nil {
		rewritten, err := c.mcpRewriter(ctx, params)
		if err != nil {
			c.logger.Warn("mcp rewrite failed", "error", err)
		} else {
			params = rewritten
		}
	}

	pending := target.cx().SendRequest(method, json.RawMessage(params))
	raw, err := pending.Recv(ctx)
	if err != nil {
		return nil, asRPCError(err)
	}

	if method == "session/new" {
		if sid := acpfields.NewSessionID(raw); sid != "" {
			c.mu.Lock()
			c.sessions[sid] = struct{}{}
			c.mu.Unlock()
		}
	}
	return raw, nil
}

func (c *Conductor) relayDownstreamNotification(targetIndex int, method string, params json.RawMessage) {
	c.hops[targetIndex].cx().SendNotification(method, json.RawMessage(params))
}

// relayUpstream delivers method(params), originated by hops[targetIndex+1],
// to hops[targetIndex]: plain if that hop is the editor, wrapped via the
// proxy receive protocol otherwise (§4.4 "Receiving from successor").
func (c *Conductor) relayUpstream(ctx context.Context, targetIndex int, method string, params json.RawMessage, innerID jsonrpc.ID) (json.RawMessage, *jsonrpc.Error) {
	target := c.hops[targetIndex]
	if target.isEditor {
		pending := target.cx().SendRequest(method, json.RawMessage(params))
		raw, err := pending.Recv(ctx)
		if err != nil {
			return nil, asRPCError(err)
		}
		return raw, nil
	}
	hw := proxy.NewHopWrapper(target.cx())
	return hw.DeliverRequest(ctx, method, params, innerID)
}

func (c *Conductor) relayUpstreamNotification(targetIndex int, method string, params json.RawMessage) {
	target := c.hops[targetIndex]
	if target.isEditor {
		target.cx().SendNotification(method, json.RawMessage(params))
		return
	}
	proxy.NewHopWrapper(target.cx()).DeliverNotification(method, params)
}

func asRPCError(err error) *jsonrpc.Error {
	if rerr, ok := err.(*jsonrpc.Error); ok {
		return rerr
	}
	return jsonrpc.CommunicationFailure(err.Error())
}

// Start propagates the initial initialize request down the chain (§4.5
// Construction step 3), annotating every non-terminal hop with the "proxy"
// meta-capability and verifying it is echoed, and records whether the
// terminal hop supports mcp_acp_transport (§4.6 Capability negotiation).
func (c *Conductor) Start(ctx context.Context) error {
	base := acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs: acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		},
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal initialize request: %w", err)
	}

	for i := 1; i < len(c.hops); i++ {
		h := c.hops[i]
		req := raw
		if !h.isTerminal {
			req, err = proxy.AnnotateInitializeRequest(raw)
			if err != nil {
				return fmt.Errorf("annotate initialize for hop %d: %w", i, err)
			}
		}

		pending := h.cx().SendRequest("initialize", json.RawMessage(req))
		respRaw, err := pending.Recv(ctx)
		if err != nil {
			return fmt.Errorf("initialize hop %d: %w", i, err)
		}

		forwarded := proxy.ForwardedProxyCapability(respRaw)
		if h.isTerminal {
			if forwarded {
				return fmt.Errorf("%w: terminal hop %d echoed proxy capability", ErrCapabilityMismatch, i)
			}
			h.mcpACPTransport = proxy.SupportsMCPACPTransport(respRaw)
			c.bridgeMode = !h.mcpACPTransport
		} else {
			if !forwarded {
				return fmt.Errorf("%w: non-terminal hop %d did not forward proxy capability", ErrCapabilityMismatch, i)
			}
			h.forwardedProxyCapability = true
			h.declaredMCPServers = acpfields.DeclaredMCPServerNames(respRaw)
		}
	}

	c.logger.Info("chain initialized", "hops", len(c.hops), "bridge_mode", c.bridgeMode)
	return nil
}

// BridgeMode reports whether the terminal hop lacks native MCP-over-ACP
// support, meaning session/new requests must be rewritten to route virtual
// MCP servers through the stdio↔TCP bridge (§4.6).
func (c *Conductor) BridgeMode() bool { return c.bridgeMode }

// DeclaredMCPServers returns, for every virtual MCP server a proxy hop
// declared on its initialize response, which hop index implements it. Call
// after Start returns; used to wire internal/mcpbridge's Spawner before any
// session/new is relayed.
func (c *Conductor) DeclaredMCPServers() map[string]int {
	out := make(map[string]int)
	for _, h := range c.hops {
		for _, name := range h.declaredMCPServers {
			out[name] = h.index
		}
	}
	return out
}

// RequestHop sends method(params) as a plain request to the component at
// hopIndex and waits for its reply. Used by internal/mcpbridge to deliver
// _mcp/* messages to the proxy hop that owns a virtual server.
func (c *Conductor) RequestHop(ctx context.Context, hopIndex int, method string, params any) (json.RawMessage, error) {
	pending := c.hops[hopIndex].cx().SendRequest(method, params)
	return pending.Recv(ctx)
}

// NotifyHop sends method(params) as a plain notification to the component
// at hopIndex.
func (c *Conductor) NotifyHop(hopIndex int, method string, params any) {
	c.hops[hopIndex].cx().SendNotification(method, params)
}

// Wait blocks until any hop's Connection terminates and returns its error
// (nil on a clean EOF).
func (c *Conductor) Wait() error {
	cases := make([]<-chan error, len(c.hops))
	for i, h := range c.hops {
		cases[i] = h.serveErr
	}
	// A single select over a dynamic slice needs reflection in general,
	// but conductors rarely exceed a handful of hops; a simple fan-in
	// goroutine keeps this readable without pulling in reflect.
	done := make(chan error, 1)
	for _, ch := range cases {
		go func(ch <-chan error) {
			if err := <-ch; err != nil {
				select {
				case done <- err:
				default:
				}
			} else {
				select {
				case done <- nil:
				default:
				}
			}
		}(ch)
	}
	return <-done
}

// Shutdown tears down the chain per §4.5 "Shutdown ordering": close the
// editor-facing outgoing side first, allow the grace period for in-flight
// requests, then kill every subprocess.
func (c *Conductor) Shutdown() {
	c.mu.Lock()
	c.shuttingDown = true
	c.mu.Unlock()

	c.hops[0].component.Kill()
	time.Sleep(c.gracePeriod)
	for i := 1; i < len(c.hops); i++ {
		if err := c.hops[i].component.Kill(); err != nil {
			c.logger.Warn("kill hop failed", "hop", i, "error", err)
		}
	}
}
