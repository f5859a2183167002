// Package jsonrpc implements the core JSON-RPC 2.0 engine: per-connection
// framing, request/notification/response dispatch, a first-claimant-wins
// handler chain, and ID-correlated reply delivery for outgoing requests.
// Every other package in this module builds a connection from here — the
// proxy wrapping layer, the conductor's per-hop engines, the MCP bridge,
// and the research sub-session pattern all speak JSON-RPC exclusively
// through a *Connection.
package jsonrpc

import (
	"context"
	"io"
	"sync"
)

// Connection owns a pair of byte streams and the engine state described in
// spec §3: an outgoing queue, a pending-replies table (owned by the reply
// registry goroutine), a handler chain (supplied to Serve), and a shutdown
// signal. Invariant: only the connection's own outgoing goroutine ever
// writes to the write stream.
type Connection struct {
	r io.Reader
	w io.Writer

	outgoing chan outgoingMessage
	replyIn  chan replyMessage
	closed   chan struct{}
	cx       *Cx

	closeOnce sync.Once
}

// NewConnection wraps a read/write stream pair (typically a subprocess's
// stdout/stdin, or a loopback TCP connection) as a JSON-RPC engine.
func NewConnection(r io.Reader, w io.Writer) *Connection {
	outgoing := make(chan outgoingMessage, 64)
	closed := make(chan struct{})
	return &Connection{
		r:        r,
		w:        w,
		outgoing: outgoing,
		replyIn:  make(chan replyMessage, 16),
		closed:   closed,
		cx:       newCx(outgoing, closed),
	}
}

// Cx returns the capability to send requests/notifications over this
// connection. It remains valid for the lifetime of the Connection value;
// after Serve returns, sends resolve immediately with CommunicationFailure.
func (c *Connection) Cx() *Cx { return c.cx }

// Serve runs the three-task engine (incoming, outgoing, reply registry)
// until the incoming stream is exhausted, a handler returns a fatal error,
// or ctx is cancelled by the caller closing the underlying streams. It
// returns the first fatal error encountered, or nil on a clean EOF.
func (c *Connection) Serve(ctx context.Context, handler Handler) error {
	var outWG sync.WaitGroup
	outWG.Add(1)
	go func() {
		defer outWG.Done()
		c.outgoingLoop()
	}()

	replyDone := make(chan struct{})
	go func() {
		runReplyRegistry(c.replyIn)
		close(replyDone)
	}()

	err := c.incomingLoop(ctx, handler)

	c.closeOnce.Do(func() { close(c.closed) })
	close(c.outgoing)
	outWG.Wait()
	close(c.replyIn)
	<-replyDone

	return err
}

func (c *Connection) incomingLoop(ctx context.Context, handler Handler) error {
	lr := newLineReader(c.r)
	for {
		line, err := lr.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		decoded, derr := decodeLine(line)
		if derr != nil {
			c.cx.SendParseError(ParseError())
			continue
		}

		switch v := decoded.(type) {
		case *Request:
			rcx := newRequestCx(c.cx, v.ID, v.Method)
			claimed, herr := handler.HandleRequest(ctx, v.Method, v.Params, rcx)
			if herr != nil {
				return herr
			}
			if !claimed {
				rcx.RespondWithError(MethodNotFound())
			}
		case *Notification:
			claimed, herr := handler.HandleNotification(ctx, v.Method, v.Params, c.cx)
			if herr != nil {
				return herr
			}
			if !claimed {
				c.cx.SendErrorNotification(MethodNotFound())
			}
		case *Response:
			c.replyIn <- replyMessage{id: v.ID, result: replyResult{value: v.Result, err: v.Error}}
		}
	}
}

func (c *Connection) outgoingLoop() {
	lw := newLineWriter(c.w)
	for msg := range c.outgoing {
		switch msg.kind {
		case outRequest:
			id := NewID()
			c.replyIn <- replyMessage{subscribe: true, id: id, ch: msg.replyCh}
			data, err := encodeRequest(msg.method, msg.params, id)
			if err != nil {
				continue
			}
			_ = lw.writeLine(data)

		case outNotification:
			data, err := encodeNotification(msg.method, msg.params)
			if err != nil {
				continue
			}
			_ = lw.writeLine(data)

		case outResponse:
			data, err := encodeResponse(msg.id, msg.result, msg.rerr)
			if err != nil {
				data, _ = encodeResponse(msg.id, nil, InternalError())
			}
			_ = lw.writeLine(data)

		case outErrorNotification:
			data, err := encodeErrorNotification(msg.rerr)
			if err != nil {
				continue
			}
			_ = lw.writeLine(data)
		}
	}
}
