package conductor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"
)

// pipeComponent is an in-memory Component for tests: our side of an
// io.Pipe pair, with the peer side exposed for the test to drive directly
// (standing in for a real subprocess's stdio).
type pipeComponent struct {
	r io.Reader
	w io.WriteCloser
}

func (p *pipeComponent) Streams() (io.Reader, io.WriteCloser) { return p.r, p.w }
func (p *pipeComponent) Wait() error                          { return nil }
func (p *pipeComponent) Kill() error                          { return p.w.Close() }

// exitComponent is a pipeComponent whose Wait() reports a caller-controlled
// outcome once, standing in for a subprocess that has exited.
type exitComponent struct {
	pipeComponent
	exit chan error
}

func newExitPipePair() (*exitComponent, *bufio.Reader, io.WriteCloser) {
	comp, r, w := newPipePair()
	return &exitComponent{pipeComponent: *comp.(*pipeComponent), exit: make(chan error, 1)}, r, w
}

func (e *exitComponent) Wait() error { return <-e.exit }

// newPipePair returns a Component for the conductor's side plus a
// bufio.Reader/io.WriteCloser for the test to act as that component's peer.
func newPipePair() (Component, *bufio.Reader, io.WriteCloser) {
	connR, peerW := io.Pipe()
	peerR, connW := io.Pipe()
	return &pipeComponent{r: connR, w: connW}, bufio.NewReader(peerR), peerW
}

func readJSONLine(t *testing.T, r *bufio.Reader, v any) {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		t.Fatalf("unmarshal %s: %v", line, err)
	}
}

func writeJSONLine(t *testing.T, w io.Writer, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// initializeAndDiscard drives the conductor's Start() initialize handshake
// against a terminal test peer, replying without mcp_acp_transport.
func initializeAndDiscard(t *testing.T, r *bufio.Reader, w io.Writer) {
	t.Helper()
	var req struct {
		ID json.RawMessage `json:"id"`
	}
	readJSONLine(t, r, &req)
	writeJSONLine(t, w, map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(req.ID),
		"result":  map[string]any{"protocolVersion": 1, "agentCapabilities": map[string]any{}},
	})
}

// TestTwoHopPassthrough exercises a chain with no proxies: editor talks
// directly to the terminal agent through the conductor.
func TestTwoHopPassthrough(t *testing.T) {
	editorComp, editorR, editorW := newPipePair()
	agentComp, agentR, agentW := newPipePair()
	defer editorW.Close()
	defer agentW.Close()

	cond, err := New(Config{Editor: editorComp, Components: []Component{agentComp}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	initDone := make(chan error, 1)
	go func() { initDone <- cond.Start(context.Background()) }()
	initializeAndDiscard(t, agentR, agentW)
	if err := <-initDone; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cond.BridgeMode() != true {
		t.Errorf("expected bridge mode (no mcp_acp_transport), got false")
	}

	writeJSONLine(t, editorW, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "session/prompt",
		"params":  map[string]any{"sessionId": "s", "prompt": []string{"x"}},
	})

	var forwarded struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	readJSONLine(t, agentR, &forwarded)
	if forwarded.Method != "session/prompt" {
		t.Fatalf("agent saw method %q", forwarded.Method)
	}

	writeJSONLine(t, agentW, map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(forwarded.ID),
		"result":  map[string]any{"stopReason": "end_turn"},
	})

	var editorResp struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	readJSONLine(t, editorR, &editorResp)
	if editorResp.ID != 1 {
		t.Errorf("editor response id = %d, want 1", editorResp.ID)
	}
	var result struct {
		StopReason string `json:"stopReason"`
	}
	if err := json.Unmarshal(editorResp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.StopReason != "end_turn" {
		t.Errorf("stopReason = %q, want end_turn", result.StopReason)
	}
}

// TestProxyForward exercises spec scenario 4: a conductor with two
// components [P, A] where P echoes session/prompt back unchanged.
func TestProxyForward(t *testing.T) {
	editorComp, editorR, editorW := newPipePair()
	proxyComp, proxyR, proxyW := newPipePair()
	agentComp, agentR, agentW := newPipePair()
	defer editorW.Close()
	defer proxyW.Close()
	defer agentW.Close()

	cond, err := New(Config{Editor: editorComp, Components: []Component{proxyComp, agentComp}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	initDone := make(chan error, 1)
	go func() { initDone <- cond.Start(context.Background()) }()

	// Hop 1 (P) is non-terminal: its initialize response must echo the
	// proxy capability.
	var proxyInitReq struct {
		ID     json.RawMessage `json:"id"`
		Params json.RawMessage `json:"params"`
	}
	readJSONLine(t, proxyR, &proxyInitReq)
	writeJSONLine(t, proxyW, map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(proxyInitReq.ID),
		"result": map[string]any{
			"protocolVersion":    1,
			"agentCapabilities":  map[string]any{},
			"_meta":              map[string]any{"symposium": map[string]any{"proxy": true}},
		},
	})
	initializeAndDiscard(t, agentR, agentW)
	if err := <-initDone; err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Start a goroutine that plays the role of P: forward whatever plain
	// request it receives to its successor via the wrapped send protocol,
	// and echo the unwrapped reply back unchanged.
	proxyDone := make(chan struct{})
	go func() {
		defer close(proxyDone)
		var inbound struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		readJSONLine(t, proxyR, &inbound)
		if inbound.Method != "session/prompt" {
			t.Errorf("proxy saw method %q", inbound.Method)
			return
		}
		sendParams, _ := json.Marshal(map[string]any{"method": inbound.Method, "params": json.RawMessage(inbound.Params)})
		writeJSONLine(t, proxyW, map[string]any{
			"jsonrpc": "2.0",
			"id":      9001,
			"method":  "_proxy/successor/send/request",
			"params":  json.RawMessage(sendParams),
		})

		var sendResp struct {
			ID     int             `json:"id"`
			Result json.RawMessage `json:"result"`
		}
		readJSONLine(t, proxyR, &sendResp)
		var wrapped struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(sendResp.Result, &wrapped); err != nil {
			t.Errorf("unmarshal wrapped reply: %v", err)
			return
		}
		writeJSONLine(t, proxyW, map[string]any{
			"jsonrpc": "2.0",
			"id":      json.RawMessage(inbound.ID),
			"result":  json.RawMessage(wrapped.Message),
		})
	}()

	writeJSONLine(t, editorW, map[string]any{
		"jsonrpc": "2.0",
		"id":      "edreq",
		"method":  "session/prompt",
		"params":  map[string]any{"sessionId": "s", "prompt": []string{"x"}},
	})

	var forwardedToAgent struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	readJSONLine(t, agentR, &forwardedToAgent)
	if forwardedToAgent.Method != "session/prompt" {
		t.Fatalf("agent saw method %q, want session/prompt", forwardedToAgent.Method)
	}
	var innerParams struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(forwardedToAgent.Params, &innerParams); err != nil {
		t.Fatalf("unmarshal inner params: %v", err)
	}
	if innerParams.SessionID != "s" {
		t.Errorf("sessionId = %q, want s", innerParams.SessionID)
	}

	writeJSONLine(t, agentW, map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(forwardedToAgent.ID),
		"result":  map[string]any{"stopReason": "end_turn"},
	})

	var editorResp struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	readJSONLine(t, editorR, &editorResp)
	if editorResp.ID != "edreq" {
		t.Errorf("editor response id = %q, want edreq", editorResp.ID)
	}
	var result struct {
		StopReason string `json:"stopReason"`
	}
	if err := json.Unmarshal(editorResp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.StopReason != "end_turn" {
		t.Errorf("stopReason = %q, want end_turn", result.StopReason)
	}

	select {
	case <-proxyDone:
	case <-time.After(2 * time.Second):
		t.Fatal("proxy goroutine did not complete")
	}
}

// TestComponentExitReportsWithoutFailingChain exercises spec §4.5's
// "reported via an error notification on the editor-facing connection but
// does not retroactively fail prior successful messages": a non-editor
// hop's subprocess exiting non-zero must reach the editor as a notification
// while a request already answered stays answered.
func TestComponentExitReportsWithoutFailingChain(t *testing.T) {
	editorComp, editorR, editorW := newPipePair()
	agentComp, agentR, agentW := newExitPipePair()
	defer editorW.Close()
	defer agentW.Close()

	cond, err := New(Config{Editor: editorComp, Components: []Component{agentComp}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	initDone := make(chan error, 1)
	go func() { initDone <- cond.Start(context.Background()) }()
	initializeAndDiscard(t, agentR, agentW)
	if err := <-initDone; err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeJSONLine(t, editorW, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "session/prompt",
		"params":  map[string]any{"sessionId": "s", "prompt": []string{"x"}},
	})

	var forwarded struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	readJSONLine(t, agentR, &forwarded)

	writeJSONLine(t, agentW, map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(forwarded.ID),
		"result":  map[string]any{"stopReason": "end_turn"},
	})

	var editorResp struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	readJSONLine(t, editorR, &editorResp)
	if editorResp.ID != 1 {
		t.Fatalf("editor response id = %d, want 1 (prior success must stand)", editorResp.ID)
	}

	agentComp.exit <- fmt.Errorf("exit status 1")

	var notif struct {
		Method string `json:"method"`
		Params struct {
			Hop   int    `json:"hop"`
			Error string `json:"error"`
		} `json:"params"`
	}
	readJSONLine(t, editorR, &notif)
	if notif.Method != "_conductor/component_exit" {
		t.Fatalf("notification method = %q, want _conductor/component_exit", notif.Method)
	}
	if notif.Params.Hop != 1 {
		t.Errorf("notification hop = %d, want 1", notif.Params.Hop)
	}
	if notif.Params.Error == "" {
		t.Error("expected a non-empty error string")
	}
}
