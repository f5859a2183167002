package proxy

import (
	"github.com/symposium-dev/symposium-conductor/internal/acpfields"
)

// AnnotateInitializeRequest injects the "proxy" meta-capability into an
// initialize request, per §3/§4.4: "present on an initialize request means
// you are not the last hop; you MUST pass initialize on and return whether
// you kept that capability in your response". The conductor calls this for
// every non-terminal hop.
func AnnotateInitializeRequest(raw []byte) ([]byte, error) {
	return acpfields.WithProxyMeta(raw)
}

// StripInitializeRequest removes the "proxy" meta-capability, used when a
// component forwards initialize to its terminal hop (the last hop must not
// see it).
func StripInitializeRequest(raw []byte) ([]byte, error) {
	return acpfields.StripProxyMeta(raw)
}

// ForwardedProxyCapability reports whether an initialize response echoed
// the "proxy" meta-capability, which the conductor uses to detect
// chain-order misconfiguration: a non-terminal hop that didn't forward
// initialize (or a terminal hop that did) is a misconfigured chain.
func ForwardedProxyCapability(responseRaw []byte) bool {
	return acpfields.HasProxyCapability(responseRaw)
}

// SupportsMCPACPTransport reports whether an initialize response declares
// the component can receive MCP requests tunneled as ACP extension
// messages (§4.6), used to decide whether the MCP bridge must be inserted.
func SupportsMCPACPTransport(responseRaw []byte) bool {
	return acpfields.HasMCPACPTransport(responseRaw)
}
