package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/symposium-dev/symposium-conductor/internal/conductor"
	"github.com/symposium-dev/symposium-conductor/internal/config"
	"github.com/symposium-dev/symposium-conductor/internal/logging"
	"github.com/symposium-dev/symposium-conductor/internal/mcpbridge"
	"github.com/symposium-dev/symposium-conductor/internal/runner"
)

// defaultConfigPath returns ~/.symposium/config.jsonc, creating the
// directory if needed.
func defaultConfigPath() (string, error) {
	if _, err := config.EnsureDir(); err != nil {
		return "", err
	}
	return config.FilePath()
}

// resolveRunner builds the restricted-process runner for cfg.Runners, or
// nil if no restrictions are configured (subprocesses then run via plain
// os/exec).
func resolveRunner(cfg config.Config, workspace string, logger *slog.Logger) (*runner.Runner, error) {
	if len(cfg.Runners) == 0 {
		return nil, nil
	}
	r, err := runner.NewRunner(cfg.Runners, nil, nil, workspace, logger)
	if err != nil {
		return nil, fmt.Errorf("resolve restricted runner: %w", err)
	}
	return r, nil
}

// spawnComponents starts one subprocess Component per command, in order,
// killing any already-started components if a later one fails to start.
func spawnComponents(ctx context.Context, commands []string, r *runner.Runner, logger *slog.Logger) ([]conductor.Component, error) {
	components := make([]conductor.Component, 0, len(commands))
	for _, cmdLine := range commands {
		comp, err := conductor.StartSubprocess(ctx, cmdLine, r, logger)
		if err != nil {
			for _, started := range components {
				started.Kill()
			}
			return nil, fmt.Errorf("start %q: %w", cmdLine, err)
		}
		components = append(components, comp)
	}
	return components, nil
}

// buildConductor assembles and starts a conductor chain wrapping editor,
// wiring the MCP-over-ACP bridge (native handler or spawned stdio bridge,
// depending on what the terminal hop's initialize response declares) once
// the chain's capabilities are known (spec §4.6).
func buildConductor(ctx context.Context, editor conductor.Component, components []conductor.Component, logger *slog.Logger) (*conductor.Conductor, error) {
	if logger == nil {
		logger = logging.Conductor()
	}

	// native/spawner are resolved only after Start() returns (the terminal
	// hop's initialize response is what reveals which bridging mode
	// applies), but Config.TerminalExtra/MCPRewriter are captured once at
	// New() time — these forwarding closures let the conductor call
	// through to values filled in after Start, without needing a mutable
	// Config.
	var native atomic.Pointer[mcpbridge.NativeHandler]
	var spawner atomic.Pointer[mcpbridge.Spawner]

	terminalExtra := mcpbridge.ForwardingHandler(native.Load)
	rewriter := func(ctx context.Context, params []byte) ([]byte, error) {
		s := spawner.Load()
		if s == nil {
			return params, nil
		}
		return s.Rewrite(ctx, params)
	}

	cond, err := conductor.New(conductor.Config{
		Editor:        editor,
		Components:    components,
		Logger:        logger,
		MCPRewriter:   rewriter,
		TerminalExtra: terminalExtra,
	})
	if err != nil {
		return nil, err
	}

	if err := cond.Start(ctx); err != nil {
		return nil, err
	}

	if cond.BridgeMode() {
		selfPath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve self executable for mcp bridge: %w", err)
		}
		spawner.Store(mcpbridge.NewSpawner(selfPath, cond.DeclaredMCPServers(), cond.RequestHop, cond.NotifyHop, logging.MCPBridge()))
	} else {
		native.Store(mcpbridge.NewNativeHandler(cond.DeclaredMCPServers(), cond.RequestHop, cond.NotifyHop, logging.MCPBridge()))
	}

	return cond, nil
}

// resolveChain turns a persisted configuration into the ordered subprocess
// command lines for conductor.Config.Components: every enabled proxy, in
// configured order, followed by the agent.
func resolveChain(cfg config.Config) ([]string, error) {
	if cfg.Agent == "" {
		return nil, fmt.Errorf("configuration has no agent command")
	}
	commands := cfg.EnabledCommands()
	commands = append(commands, cfg.Agent)
	return commands, nil
}
