// Package sessionrouter implements the editor-facing front end that
// multiplexes many ACP sessions over potentially distinct conductor chains,
// keyed by configuration (spec §4.7). It owns the one real connection to
// the editor; every conductor it spawns runs behind an in-process loopback
// "editor" hop (internal/conductor.NewLoopbackEditor) instead of real
// stdio, so a single wire carries every session regardless of which chain
// ends up serving it.
package sessionrouter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"github.com/symposium-dev/symposium-conductor/internal/acpfields"
	"github.com/symposium-dev/symposium-conductor/internal/conductor"
	"github.com/symposium-dev/symposium-conductor/internal/config"
	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

// SpawnFunc assembles and starts the conductor for one configuration,
// installing editor as its hop-0 component. Supplied by cmd/, which knows
// how to resolve proxy names to executables and start the terminal agent.
type SpawnFunc func(ctx context.Context, cfg config.Config, editor conductor.Component) (*conductor.Conductor, error)

// sessionState is which of the three states (spec §4.7) a session is in.
type sessionState int

const (
	stateDelegating sessionState = iota
	stateConfig
)

// sessionEntry is one row of the router's SessionID → SessionState map.
type sessionEntry struct {
	state sessionState
	bound *boundConductor // set when state == stateDelegating
	cfg   *configSession  // set when state == stateConfig (covers both InitialSetup and ConfigEditing)
}

// boundConductor is one spawned chain plus the router's own view of its
// loopback hop 0, keyed by configuration so a matching session/new can
// reuse it instead of spawning a second chain for the same configuration.
type boundConductor struct {
	key       string
	conductor *conductor.Conductor
	frontEnd  *jsonrpc.Connection
}

// Router is the editor-facing handler described by spec §4.7.
type Router struct {
	configPath string
	spawn      SpawnFunc
	logger     *slog.Logger

	editorConn *jsonrpc.Connection

	mu              sync.Mutex
	sessions        map[string]*sessionEntry
	conductorsByKey map[string]*boundConductor
}

// New wraps editorR/editorW (the real editor's stdio) as the router's own
// connection. Call Serve to begin processing.
func New(editorR io.Reader, editorW io.Writer, configPath string, spawn SpawnFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		configPath:      configPath,
		spawn:           spawn,
		logger:          logger,
		editorConn:      jsonrpc.NewConnection(editorR, editorW),
		sessions:        make(map[string]*sessionEntry),
		conductorsByKey: make(map[string]*boundConductor),
	}
}

// Serve runs the real editor connection until it closes or ctx ends.
func (r *Router) Serve(ctx context.Context) error {
	return r.editorConn.Serve(ctx, jsonrpc.AllMessages(r.handleRequest, r.handleNotification))
}

// InvalidateConductorCache drops every cached conductor-handle-by-key entry
// (internal/config.Watcher calls this on an on-disk edit) so the next
// session/new for an edited configuration spawns a fresh chain. Sessions
// already Delegating to an existing conductor are unaffected.
func (r *Router) InvalidateConductorCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conductorsByKey = make(map[string]*boundConductor)
}

func (r *Router) handleRequest(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) error {
	if method == "session/new" {
		go r.handleNewSession(ctx, params, rcx)
		return nil
	}

	sid := acpfields.SessionID(params)
	entry := r.lookup(sid)
	if entry == nil {
		rcx.RespondWithError(jsonrpc.InvalidRequest())
		return nil
	}

	switch entry.state {
	case stateDelegating:
		go r.forwardToConductor(ctx, entry.bound, method, params, rcx)
	case stateConfig:
		entry.cfg.HandleRequest(ctx, method, params, rcx)
	}
	return nil
}

func (r *Router) handleNotification(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) error {
	sid := acpfields.SessionID(params)
	entry := r.lookup(sid)
	if entry == nil {
		return nil // unknown session: swallow, per §4.7
	}

	switch entry.state {
	case stateDelegating:
		entry.bound.frontEnd.Cx().SendNotification(method, json.RawMessage(params))
	case stateConfig:
		entry.cfg.HandleNotification(ctx, method, params, cx)
	}
	return nil
}

func (r *Router) lookup(sid string) *sessionEntry {
	if sid == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sid]
}

func (r *Router) bind(sid string, entry *sessionEntry) {
	r.mu.Lock()
	r.sessions[sid] = entry
	r.mu.Unlock()
}

// unbind removes a session, used when a ConfigEditing session closes
// without a returnTo (spec §4.7 "otherwise close the pseudo-session").
func (r *Router) unbind(sid string) {
	r.mu.Lock()
	delete(r.sessions, sid)
	r.mu.Unlock()
}

func (r *Router) forwardToConductor(ctx context.Context, bc *boundConductor, method string, params []byte, rcx *jsonrpc.RequestCx) {
	raw, err := bc.frontEnd.Cx().SendRequest(method, json.RawMessage(params)).Recv(ctx)
	if err != nil {
		rcx.RespondWithError(asRPCError(err))
		return
	}
	rcx.Respond(json.RawMessage(raw))
}

// handleNewSession implements the "New session policy" (spec §4.7).
func (r *Router) handleNewSession(ctx context.Context, params []byte, rcx *jsonrpc.RequestCx) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		r.logger.Error("load configuration", "error", err)
		rcx.RespondWithError(jsonrpc.InternalError())
		return
	}

	if cfg == nil {
		sid := uuid.NewString()
		cs := newConfigSession(sid, config.Config{}, nil, r, true)
		r.bind(sid, &sessionEntry{state: stateConfig, cfg: cs})
		rcx.Respond(acp.NewSessionResponse{SessionId: sid})
		cs.sendWelcome(ctx)
		return
	}

	bc, err := r.conductorFor(ctx, *cfg)
	if err != nil {
		r.logger.Error("spawn conductor", "error", err, "key", cfg.Key())
		rcx.RespondWithError(jsonrpc.InternalError())
		return
	}

	raw, err := bc.frontEnd.Cx().SendRequest("session/new", json.RawMessage(params)).Recv(ctx)
	if err != nil {
		rcx.RespondWithError(asRPCError(err))
		return
	}
	if sid := acpfields.NewSessionID(raw); sid != "" {
		r.bind(sid, &sessionEntry{state: stateDelegating, bound: bc})
	}
	rcx.Respond(json.RawMessage(raw))
}

// conductorFor resolves cfg to a conductor handle, spawning one if no
// existing handle matches its configuration key (spec §4.7 step 2).
func (r *Router) conductorFor(ctx context.Context, cfg config.Config) (*boundConductor, error) {
	key := cfg.Key()

	r.mu.Lock()
	if bc, ok := r.conductorsByKey[key]; ok {
		r.mu.Unlock()
		return bc, nil
	}
	r.mu.Unlock()

	editorComp, frontEnd := conductor.NewLoopbackEditor()
	cond, err := r.spawn(ctx, cfg, editorComp)
	if err != nil {
		return nil, err
	}

	bc := &boundConductor{key: key, conductor: cond, frontEnd: frontEnd}
	go func() {
		if err := frontEnd.Serve(ctx, r.upstreamHandler(bc)); err != nil {
			r.logger.Warn("conductor front end ended", "key", key, "error", err)
		}
	}()

	r.mu.Lock()
	r.conductorsByKey[key] = bc
	r.mu.Unlock()
	return bc, nil
}

// upstreamHandler relays whatever a spawned conductor addresses to "the
// editor" (its loopback hop 0) on to the real editor connection: permission
// requests, filesystem/terminal requests, and session/update notifications.
func (r *Router) upstreamHandler(bc *boundConductor) jsonrpc.Handler {
	return jsonrpc.AllMessages(
		func(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) error {
			go func() {
				raw, err := r.editorConn.Cx().SendRequest(method, json.RawMessage(params)).Recv(ctx)
				if err != nil {
					rcx.RespondWithError(asRPCError(err))
					return
				}
				rcx.Respond(json.RawMessage(raw))
			}()
			return nil
		},
		func(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) error {
			r.editorConn.Cx().SendNotification(method, json.RawMessage(params))
			return nil
		},
	)
}

// resumeDelegating hands a ConfigEditing session back to the conductor it
// was borrowed from (spec §4.7 "done" with returnTo set).
func (r *Router) resumeDelegating(sid string, bc *boundConductor) {
	r.bind(sid, &sessionEntry{state: stateDelegating, bound: bc})
}

func asRPCError(err error) *jsonrpc.Error {
	if rerr, ok := err.(*jsonrpc.Error); ok {
		return rerr
	}
	return jsonrpc.CommunicationFailure(err.Error())
}
