package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestListenerRoutesRequestToOwningHop(t *testing.T) {
	var gotHop int
	var gotMethod string
	request := func(ctx context.Context, hopIndex int, method string, params any) (json.RawMessage, error) {
		gotHop = hopIndex
		gotMethod = method
		return json.RawMessage(`{"tools":[]}`), nil
	}
	router := newRouter(request, nil, nil)
	vs := router.Connect("eg", 3)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l := newListener(ln, vs, router, nil)
	l.Serve()
	defer l.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":"1","method":"tools/list","params":{}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var resp struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != "1" {
		t.Errorf("response id = %q, want 1", resp.ID)
	}
	if gotHop != 3 {
		t.Errorf("routed to hop %d, want 3", gotHop)
	}
	if gotMethod != "_mcp/request" {
		t.Errorf("routed via method %q, want _mcp/request", gotMethod)
	}
}

func TestListenerSecondConnectionPreemptsFirst(t *testing.T) {
	router := newRouter(
		func(ctx context.Context, hopIndex int, method string, params any) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
		nil, nil,
	)
	vs := router.Connect("eg", 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l := newListener(ln, vs, router, nil)
	l.Serve()
	defer l.Close()

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()

	// Give the listener a moment to register the first connection as current.
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()

	time.Sleep(50 * time.Millisecond)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = first.Read(buf)
	if err == nil {
		t.Errorf("expected first connection to be closed after preemption")
	}
}
