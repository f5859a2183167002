package jsonrpc

import (
	"context"
	"log/slog"
	"time"
)

// Trace wraps a Handler with structured logging of every request and
// notification it is offered, without the engine itself knowing anything
// about telemetry (§9 Design Notes: tracing/telemetry is layered as a
// Handler combinator, never baked into the engine).
func Trace(inner Handler, logger *slog.Logger) Handler {
	return &tracingHandler{inner: inner, logger: logger}
}

type tracingHandler struct {
	inner  Handler
	logger *slog.Logger
}

func (t *tracingHandler) HandleRequest(ctx context.Context, method string, params []byte, rcx *RequestCx) (bool, error) {
	start := time.Now()
	claimed, err := t.inner.HandleRequest(ctx, method, params, rcx)
	t.logger.Debug("jsonrpc request",
		"method", method,
		"claimed", claimed,
		"elapsed", time.Since(start),
		"error", errString(err),
	)
	return claimed, err
}

func (t *tracingHandler) HandleNotification(ctx context.Context, method string, params []byte, cx *Cx) (bool, error) {
	start := time.Now()
	claimed, err := t.inner.HandleNotification(ctx, method, params, cx)
	t.logger.Debug("jsonrpc notification",
		"method", method,
		"claimed", claimed,
		"elapsed", time.Since(start),
		"error", errString(err),
	)
	return claimed, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
