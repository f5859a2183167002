package sessionrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"github.com/symposium-dev/symposium-conductor/internal/config"
	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
)

// defaultProxyCatalog seeds a fresh InitialSetup draft with the proxies the
// binary ships discovery for. Editing an existing configuration instead
// starts from its own Proxies list. Spec §4.7 names the menu's inputs but
// not where the selectable proxy list comes from; this is the router's one
// interpretive choice to make the menu concrete (see DESIGN.md).
var defaultProxyCatalog = []string{"cost-guard", "audit-log"}

// menuScreen is the text menu state machine's current screen (spec §4.7:
// "states: main menu, agent selection").
type menuScreen int

const (
	screenMain menuScreen = iota
	screenAgentSelect
)

// configSession is the handler for one session parked in InitialSetup or
// ConfigEditing. Both states share this machine; newConfigSession's firstRun
// only decides whether an empty draft is seeded from defaultProxyCatalog, and
// returnTo is nil for an InitialSetup session that was never borrowed from a
// running conductor.
type configSession struct {
	sid      string
	router   *Router
	draft    config.Config
	returnTo *boundConductor
	screen   menuScreen
}

func newConfigSession(sid string, draft config.Config, returnTo *boundConductor, router *Router, firstRun bool) *configSession {
	if firstRun && len(draft.Proxies) == 0 {
		for _, name := range defaultProxyCatalog {
			draft.Proxies = append(draft.Proxies, config.ProxyEntry{Name: name, Enabled: false})
		}
	}
	return &configSession{sid: sid, router: router, draft: draft, returnTo: returnTo}
}

func (cs *configSession) sendWelcome(ctx context.Context) {
	cs.notify(ctx, "No configuration found yet. "+cs.renderMain())
}

// HandleRequest services session/prompt and session/cancel for a
// pseudo-session; anything else (filesystem/terminal ops, permission
// requests) cannot occur since no agent is attached.
func (cs *configSession) HandleRequest(ctx context.Context, method string, params []byte, rcx *jsonrpc.RequestCx) {
	switch method {
	case "session/prompt":
		rcx.Respond(cs.prompt(ctx, params))
	default:
		rcx.RespondWithError(jsonrpc.MethodNotFound())
	}
}

func (cs *configSession) HandleNotification(ctx context.Context, method string, params []byte, cx *jsonrpc.Cx) {
	// session/cancel and anything else: nothing in flight to cancel.
}

type withPromptText struct {
	Prompt []acp.ContentBlock `json:"prompt"`
}

func promptText(raw []byte) string {
	var v withPromptText
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	var parts []string
	for _, block := range v.Prompt {
		if block.Text != nil {
			parts = append(parts, block.Text.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

type promptResponse struct {
	StopReason acp.StopReason `json:"stopReason"`
}

func (cs *configSession) prompt(ctx context.Context, params []byte) promptResponse {
	input := promptText(params)
	reply := cs.handleInput(strings.Fields(input))
	if reply != "" {
		cs.notify(ctx, reply)
	}
	return promptResponse{StopReason: "end_turn"}
}

// handleInput runs one line of input through the menu state machine,
// returning the text to show the user next.
func (cs *configSession) handleInput(fields []string) string {
	if len(fields) == 0 {
		return cs.renderCurrentScreen()
	}

	if cs.screen == screenAgentSelect {
		cs.draft.Agent = fields[0]
		cs.screen = screenMain
		return fmt.Sprintf("Agent set to %q.\n", cs.draft.Agent) + cs.renderMain()
	}

	switch strings.ToLower(fields[0]) {
	case "agent":
		cs.screen = screenAgentSelect
		return "Type the agent command to use."

	case "done":
		return cs.finish(true)

	case "cancel":
		return cs.finish(false)

	case "move":
		return cs.move(fields) + cs.renderMain()

	default:
		if n, err := strconv.Atoi(fields[0]); err == nil {
			return cs.toggle(n) + cs.renderMain()
		}
		return "Unrecognized input.\n" + cs.renderCurrentScreen()
	}
}

func (cs *configSession) renderCurrentScreen() string {
	if cs.screen == screenAgentSelect {
		return "Type the agent command to use."
	}
	return cs.renderMain()
}

func (cs *configSession) toggle(n int) string {
	if n < 1 || n > len(cs.draft.Proxies) {
		return fmt.Sprintf("No proxy numbered %d.\n", n)
	}
	p := &cs.draft.Proxies[n-1]
	p.Enabled = !p.Enabled
	return fmt.Sprintf("%s is now %s.\n", p.Name, enabledWord(p.Enabled))
}

// move implements "move X to Y", 1-based positions into draft.Proxies.
func (cs *configSession) move(fields []string) string {
	if len(fields) != 4 || strings.ToLower(fields[2]) != "to" {
		return "Usage: move <from> to <to>.\n"
	}
	from, err1 := strconv.Atoi(fields[1])
	to, err2 := strconv.Atoi(fields[3])
	if err1 != nil || err2 != nil || from < 1 || to < 1 || from > len(cs.draft.Proxies) || to > len(cs.draft.Proxies) {
		return "Invalid move positions.\n"
	}
	entries := cs.draft.Proxies
	item := entries[from-1]
	entries = append(entries[:from-1], entries[from:]...)
	entries = append(entries[:to-1], append([]config.ProxyEntry{item}, entries[to-1:]...)...)
	cs.draft.Proxies = entries
	return fmt.Sprintf("Moved %s to position %d.\n", item.Name, to)
}

// finish implements "done"/"cancel": persist (or discard) the draft, then
// either hand the session back to its originating conductor or close the
// pseudo-session (spec §4.7).
func (cs *configSession) finish(save bool) string {
	if save {
		if err := config.Save(cs.router.configPath, cs.draft); err != nil {
			cs.router.logger.Error("save configuration", "error", err)
			return "Failed to save configuration.\n"
		}
	}

	if cs.returnTo != nil {
		cs.router.resumeDelegating(cs.sid, cs.returnTo)
		if save {
			return "Configuration saved. Resuming your session.\n"
		}
		return "Configuration editing cancelled. Resuming your session.\n"
	}

	cs.router.unbind(cs.sid)
	if save {
		return "Configuration saved.\n"
	}
	return "Configuration editing cancelled.\n"
}

func (cs *configSession) renderMain() string {
	var b strings.Builder
	b.WriteString("Configuration menu:\n")
	fmt.Fprintf(&b, "  agent: %s\n", orNone(cs.draft.Agent))
	for i, p := range cs.draft.Proxies {
		fmt.Fprintf(&b, "  %d) %s [%s]\n", i+1, p.Name, enabledWord(p.Enabled))
	}
	b.WriteString("Type a number to toggle a proxy, \"agent\" to set the agent, ")
	b.WriteString("\"move X to Y\" to reorder, \"done\" to save, or \"cancel\" to discard.\n")
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// notify sends a session/update agent-message-chunk carrying text, the
// pseudo-session's only way of talking back to the editor.
func (cs *configSession) notify(ctx context.Context, text string) {
	cs.router.editorConn.Cx().SendNotification("session/update", acp.SessionNotification{
		SessionId: cs.sid,
		Update: acp.SessionUpdate{
			AgentMessageChunk: &acp.SessionUpdateAgentMessageChunk{
				Content: acp.TextBlock(text),
			},
		},
	})
}
