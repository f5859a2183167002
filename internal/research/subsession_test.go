package research

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
	"github.com/symposium-dev/symposium-conductor/internal/proxy"
)

type rawMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func readLine(t *testing.T, r *bufio.Reader) rawMessage {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	var m rawMessage
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("unmarshal %s: %v", line, err)
	}
	return m
}

func writeLine(t *testing.T, w io.Writer, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func withTimeout(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() { fn(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

// newPeerConnection builds a Runner wired to a crossed-pipe peer, serving
// in the background, so a test can play the conductor's role by reading
// and writing raw JSON-RPC lines directly.
func newPeerConnection(t *testing.T) (*Runner, *bufio.Reader, io.Writer) {
	t.Helper()
	connR, peerW := io.Pipe()
	peerR, connW := io.Pipe()
	conn := jsonrpc.NewConnection(connR, connW)
	runner := NewRunner(conn.Cx())
	go conn.Serve(context.Background(), runner.Handler())
	return runner, bufio.NewReader(peerR), peerW
}

// expectSendRequest reads one `_proxy/successor/send/request` line, asserts
// its inner method, and replies with result as the successor's answer.
func expectSendRequest(t *testing.T, peer *bufio.Reader, peerW io.Writer, wantMethod string, result any) {
	t.Helper()
	msg := readLine(t, peer)
	if msg.Method != proxy.SendRequestMethod {
		t.Fatalf("method = %q, want %s", msg.Method, proxy.SendRequestMethod)
	}
	innerMethod, _, err := proxy.DecodeSend(msg.Params)
	if err != nil {
		t.Fatalf("decode send: %v", err)
	}
	if innerMethod != wantMethod {
		t.Fatalf("inner method = %q, want %q", innerMethod, wantMethod)
	}
	resultRaw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	wrapped, err := proxy.EncodeSendReply(resultRaw)
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	writeLine(t, peerW, map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(msg.ID), "result": json.RawMessage(wrapped)})
}

// pushPermissionRequest delivers an unsolicited
// `_proxy/successor/receive/request` carrying session/request_permission
// and returns the decoded reply the Runner sends back.
func pushPermissionRequest(t *testing.T, peer *bufio.Reader, peerW io.Writer, sessionID string, options []acp.PermissionOption) acp.RequestPermissionResponse {
	t.Helper()
	innerID := jsonrpc.StringID("perm-inner-1")
	params, err := json.Marshal(map[string]any{"sessionId": sessionID, "options": options})
	if err != nil {
		t.Fatalf("marshal permission params: %v", err)
	}
	wrapped, err := proxy.EncodeReceiveRequest("session/request_permission", params, innerID)
	if err != nil {
		t.Fatalf("encode receive request: %v", err)
	}
	writeLine(t, peerW, map[string]any{"jsonrpc": "2.0", "id": "perm-outer-1", "method": proxy.ReceiveRequestMethod, "params": json.RawMessage(wrapped)})

	reply := readLine(t, peer)
	if string(reply.ID) != `"perm-outer-1"` {
		t.Fatalf("reply id = %s, want \"perm-outer-1\"", reply.ID)
	}
	result, rerr, err := proxy.DecodeReceiveReply(reply.Result)
	if err != nil {
		t.Fatalf("decode receive reply: %v", err)
	}
	if rerr != nil {
		t.Fatalf("unexpected error reply: %+v", rerr)
	}
	var resp acp.RequestPermissionResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal permission response: %v", err)
	}
	return resp
}

func TestRunAutoApprovesAndCollectsResponses(t *testing.T) {
	runner, peer, peerW := newPeerConnection(t)

	var capture func(json.RawMessage)
	buildTools := ToolSetBuilder(func(onReturnResponse func(json.RawMessage)) ([]acp.McpServer, error) {
		capture = onReturnResponse
		return nil, nil
	})

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		expectSendRequest(t, peer, peerW, "session/new", map[string]any{"sessionId": "sess-1"})

		capture(json.RawMessage(`{"text":"first finding"}`))
		capture(json.RawMessage(`{"text":"second finding"}`))

		resp := pushPermissionRequest(t, peer, peerW, "sess-1", []acp.PermissionOption{
			{OptionId: "deny", Name: "Deny", Kind: acp.PermissionOptionKindRejectOnce},
			{OptionId: "ok", Name: "Allow", Kind: acp.PermissionOptionKindAllowOnce},
		})
		if resp.Outcome.Selected == nil || resp.Outcome.Selected.OptionId != "ok" {
			t.Errorf("selected option = %+v, want ok", resp.Outcome)
		}

		expectSendRequest(t, peer, peerW, "session/prompt", map[string]any{"stopReason": "end_turn"})
	}()

	var result *Result
	var err error
	withTimeout(t, func() {
		result, err = runner.Run(context.Background(), buildTools, []acp.ContentBlock{acp.TextBlock("investigate")})
	})
	<-driverDone

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(result.Responses))
	}
}

func TestRunAbnormalStopReasonFails(t *testing.T) {
	runner, peer, peerW := newPeerConnection(t)

	buildTools := ToolSetBuilder(func(onReturnResponse func(json.RawMessage)) ([]acp.McpServer, error) {
		return nil, nil
	})

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		expectSendRequest(t, peer, peerW, "session/new", map[string]any{"sessionId": "sess-2"})
		expectSendRequest(t, peer, peerW, "session/prompt", map[string]any{"stopReason": "refusal"})
	}()

	var err error
	withTimeout(t, func() {
		_, err = runner.Run(context.Background(), buildTools, []acp.ContentBlock{acp.TextBlock("investigate")})
	})
	<-driverDone

	var abnormal *ErrAbnormalStop
	if err == nil {
		t.Fatal("expected an error for a non-EndTurn stop reason")
	}
	if !asAbnormalStop(err, &abnormal) {
		t.Fatalf("error = %v, want *ErrAbnormalStop", err)
	}
	if abnormal.StopReason != "refusal" {
		t.Errorf("stop reason = %q, want refusal", abnormal.StopReason)
	}
}

func asAbnormalStop(err error, target **ErrAbnormalStop) bool {
	if e, ok := err.(*ErrAbnormalStop); ok {
		*target = e
		return true
	}
	// Run returns *ErrAbnormalStop unwrapped; errors wrapped with
	// fmt.Errorf("...: %w", err) are unwrapped before giving up.
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return asAbnormalStop(u.Unwrap(), target)
	}
	return false
}

func TestPermissionInterceptionIgnoresUnregisteredSession(t *testing.T) {
	runner, peer, peerW := newPeerConnection(t)

	resp := pushPermissionRequestExpectingFallthrough(t, peer, peerW, "unregistered-session")
	if resp != nil {
		t.Fatalf("expected no auto-approval for an unregistered session, got %+v", resp)
	}
	_ = runner
}

// pushPermissionRequestExpectingFallthrough pushes a permission request for
// a session the Runner does not have registered; since nothing else claims
// `_proxy/successor/receive/request` in this bare test harness, the engine
// falls through to MethodNotFound, confirming the Runner did not auto-approve it.
func pushPermissionRequestExpectingFallthrough(t *testing.T, peer *bufio.Reader, peerW io.Writer, sessionID string) *acp.RequestPermissionResponse {
	t.Helper()
	innerID := jsonrpc.StringID("perm-inner-2")
	params, _ := json.Marshal(map[string]any{
		"sessionId": sessionID,
		"options": []acp.PermissionOption{
			{OptionId: "ok", Name: "Allow", Kind: acp.PermissionOptionKindAllowOnce},
		},
	})
	wrapped, err := proxy.EncodeReceiveRequest("session/request_permission", params, innerID)
	if err != nil {
		t.Fatalf("encode receive request: %v", err)
	}
	writeLine(t, peerW, map[string]any{"jsonrpc": "2.0", "id": "perm-outer-2", "method": proxy.ReceiveRequestMethod, "params": json.RawMessage(wrapped)})

	reply := readLine(t, peer)
	if len(reply.Error) == 0 {
		t.Fatalf("expected a method_not_found error reply, got %+v", reply)
	}
	return nil
}
