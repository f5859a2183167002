// Package research implements the research sub-session pattern (spec
// §4.8): a tool handler's way of asking a downstream agent a bounded
// question through its own conductor. Grounded on
// inercia-mitto's internal/auxiliary package (a hidden, non-persisted ACP
// session that auto-approves its own permission requests and collects the
// agent's response), generalized here to run over the proxy wrapping layer
// (internal/proxy) instead of a direct subprocess connection, and extended
// with the return_response_to_user tool collection and stop-reason handling
// spec §4.8 adds.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"github.com/symposium-dev/symposium-conductor/internal/acpfields"
	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
	"github.com/symposium-dev/symposium-conductor/internal/proxy"
)

// ReturnResponseToUserTool is the name of the tool every sub-session
// exposes for the downstream agent to report a result (§4.8 step 1).
const ReturnResponseToUserTool = "return_response_to_user"

// ToolSetBuilder allocates the private MCP server list for one sub-session
// and wires onReturnResponse to be called with the arguments of every
// return_response_to_user invocation as it happens. Concrete tool schemas
// and MCP transport wiring (stdio bridge vs native _mcp/*) are the caller's
// concern, out of scope per spec §1; this package owns only the
// orchestration in steps 2-8.
type ToolSetBuilder func(onReturnResponse func(json.RawMessage)) ([]acp.McpServer, error)

// Result is what a completed sub-session returns to its caller.
type Result struct {
	// Responses are every return_response_to_user invocation, in the order
	// received (§4.8 step 6).
	Responses []json.RawMessage
}

// ErrAbnormalStop reports a sub-session prompt ending with a stop reason
// other than EndTurn (§4.8 step 7); a caller expecting a *jsonrpc.Error
// should wrap this as an internal error citing the reason.
type ErrAbnormalStop struct {
	StopReason acp.StopReason
}

func (e *ErrAbnormalStop) Error() string {
	return fmt.Sprintf("research sub-session ended abnormally: stop reason %q", e.StopReason)
}

// Runner owns one proxy's research sub-session machinery: the connection
// used to address the conductor's successor, and the auto-approve set
// shared across every sub-session the proxy runs. Install Runner.Handler()
// ahead of the proxy's own handler chain.
type Runner struct {
	cx        *jsonrpc.Cx
	approvals *autoApproveSet
}

// NewRunner wraps cx, the Cx of the proxy's connection to the conductor —
// the same connection that carries `_proxy/successor/*` messages.
func NewRunner(cx *jsonrpc.Cx) *Runner {
	return &Runner{cx: cx, approvals: newAutoApproveSet()}
}

// Handler returns the jsonrpc.Handler that intercepts request_permission
// messages for sessions this Runner currently has in its auto-approve set
// (§4.8 step 5). Chain it ahead of the proxy's default handling so an
// auto-approved request never reaches the proxy's own logic.
func (r *Runner) Handler() jsonrpc.Handler {
	return jsonrpc.HandlerFuncs{Request: r.interceptPermissionRequest}
}

func (r *Runner) interceptPermissionRequest(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) (bool, error) {
	if method != proxy.ReceiveRequestMethod {
		return false, nil
	}
	innerMethod, innerParams, innerID, err := proxy.DecodeReceiveRequest(params)
	if err != nil || innerMethod != "session/request_permission" {
		return false, nil
	}
	sid := acpfields.SessionID(innerParams)
	if !r.approvals.contains(sid) {
		return false, nil
	}
	optionID, ok := firstAllowOption(acpfields.PermissionOptionKinds(innerParams))
	if !ok {
		return false, nil
	}

	resp := acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: optionID},
		},
	}
	result, err := json.Marshal(resp)
	if err != nil {
		rcx.RespondWithError(jsonrpc.InternalError())
		return true, nil
	}
	wrapped, err := proxy.EncodeReceiveReply(result, nil, innerID)
	if err != nil {
		rcx.RespondWithError(jsonrpc.InternalError())
		return true, nil
	}
	rcx.Respond(json.RawMessage(wrapped))
	return true, nil
}

// firstAllowOption picks the first AllowOnce option, falling back to any
// other allow-kind option. Reject options are never selected (§4.8 step 5
// "preferring AllowOnce"; "Reject options are ignored").
func firstAllowOption(options []acp.PermissionOption) (string, bool) {
	var fallback string
	haveFallback := false
	for _, opt := range options {
		if opt.Kind == acp.PermissionOptionKindAllowOnce {
			return opt.OptionId, true
		}
		if opt.Kind == acp.PermissionOptionKindAllowAlways && !haveFallback {
			fallback = opt.OptionId
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

// Run executes one full sub-session (§4.8 steps 1-8): allocate the tool
// set, open a session, register it for auto-approval, send the research
// prompt, await the terminal stop reason, and tear the session back down
// regardless of outcome.
func (r *Runner) Run(ctx context.Context, buildTools ToolSetBuilder, prompt []acp.ContentBlock) (*Result, error) {
	var mu sync.Mutex
	var responses []json.RawMessage
	servers, err := buildTools(func(raw json.RawMessage) {
		mu.Lock()
		responses = append(responses, raw)
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("research: allocate tool set: %w", err)
	}

	sessionID, err := r.newSession(ctx, servers)
	if err != nil {
		return nil, fmt.Errorf("research: session/new: %w", err)
	}
	r.approvals.add(sessionID)
	defer r.approvals.remove(sessionID)

	stopReason, err := r.prompt(ctx, sessionID, prompt)
	if err != nil {
		return nil, fmt.Errorf("research: session/prompt: %w", err)
	}
	if stopReason != acp.StopReasonEndTurn {
		return nil, &ErrAbnormalStop{StopReason: stopReason}
	}

	mu.Lock()
	collected := append([]json.RawMessage(nil), responses...)
	mu.Unlock()
	return &Result{Responses: collected}, nil
}

// sendToSuccessor wraps params as a `_proxy/successor/send/request`,
// forwards it to the conductor, and unwraps the reply (§4.4).
func (r *Runner) sendToSuccessor(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	wrapped, err := proxy.EncodeSend(method, raw)
	if err != nil {
		return nil, err
	}
	respRaw, err := r.cx.SendRequest(proxy.SendRequestMethod, json.RawMessage(wrapped)).Recv(ctx)
	if err != nil {
		return nil, err
	}
	return proxy.DecodeSendReply(respRaw)
}

func (r *Runner) newSession(ctx context.Context, servers []acp.McpServer) (string, error) {
	cwd, _ := os.Getwd()
	result, err := r.sendToSuccessor(ctx, "session/new", acp.NewSessionRequest{Cwd: cwd, McpServers: servers})
	if err != nil {
		return "", err
	}
	sid := acpfields.NewSessionID(result)
	if sid == "" {
		return "", fmt.Errorf("empty session id in session/new response")
	}
	return sid, nil
}

func (r *Runner) prompt(ctx context.Context, sessionID string, prompt []acp.ContentBlock) (acp.StopReason, error) {
	result, err := r.sendToSuccessor(ctx, "session/prompt", acp.PromptRequest{
		SessionId: acp.SessionId(sessionID),
		Prompt:    prompt,
	})
	if err != nil {
		return "", err
	}
	return acpfields.StopReason(result), nil
}
