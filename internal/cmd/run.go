package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/symposium-dev/symposium-conductor/internal/conductor"
	"github.com/symposium-dev/symposium-conductor/internal/config"
	"github.com/symposium-dev/symposium-conductor/internal/lifecycle"
	"github.com/symposium-dev/symposium-conductor/internal/logging"
	"github.com/symposium-dev/symposium-conductor/internal/runner"
	"github.com/symposium-dev/symposium-conductor/internal/sessionrouter"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run session-router-fronted using on-disk configuration",
	Long: `run multiplexes editor sessions over configuration-keyed conductor
chains, reading ~/.symposium/config.jsonc (or --config). If no configuration
exists yet, the first session enters the initial-setup pseudo-session
instead of a real agent chain (spec §4.7).`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	path, err := resolvedConfigPath()
	if err != nil {
		return fmt.Errorf("resolve configuration path: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.Router()
	router := sessionrouter.New(os.Stdin, os.Stdout, path, spawnConfiguredChain, logger)

	watcher, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
	} else {
		defer watcher.Close()
		go watchConfig(ctx, watcher, router)
	}

	sm := lifecycle.NewShutdownManager()
	sm.Start()
	go func() {
		<-sm.Done()
		cancel()
	}()

	serveErr := router.Serve(ctx)
	sm.Shutdown("editor-eof")
	return serveErr
}

// watchConfig invalidates the router's cached conductor-by-configuration-key
// map whenever the on-disk configuration changes, so new sessions pick up
// an edited chain without a process restart; sessions already bound to a
// conductor keep running against it.
func watchConfig(ctx context.Context, watcher *config.Watcher, router *sessionrouter.Router) {
	changes := watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			router.InvalidateConductorCache()
		}
	}
}

// spawnConfiguredChain is the sessionrouter.SpawnFunc for "run" mode: it
// resolves a configuration into subprocess commands and assembles a
// conductor behind the router-supplied loopback editor component.
func spawnConfiguredChain(ctx context.Context, cfg config.Config, editor conductor.Component) (*conductor.Conductor, error) {
	logger := logging.Conductor()

	commands, err := resolveChain(cfg)
	if err != nil {
		return nil, err
	}

	r, err := resolveRunner(cfg, "", logger)
	if err != nil {
		return nil, err
	}

	components, err := spawnComponents(ctx, commands, r, logger)
	if err != nil {
		return nil, err
	}

	cond, err := buildConductor(ctx, editor, components, logger)
	if err != nil {
		return nil, err
	}

	reportRunnerFallback(cond.NotifyHop, r, logger)
	return cond, nil
}

// reportRunnerFallback tells the editor when the restricted runner requested
// by configuration couldn't be honored on this platform and every subprocess
// in the chain fell back to the unrestricted exec runner instead, so a user
// who opted into sandboxing isn't left assuming it's in effect. notify is
// (*conductor.Conductor).NotifyHop in production, a recording stub in tests.
func reportRunnerFallback(notify func(hopIndex int, method string, params any), r *runner.Runner, logger *slog.Logger) {
	if r == nil || r.FallbackInfo == nil {
		return
	}
	logger.Warn("chain running without requested restricted runner",
		"requested_type", r.FallbackInfo.RequestedType,
		"fallback_type", r.FallbackInfo.FallbackType,
		"reason", r.FallbackInfo.Reason)
	notify(0, "_conductor/runner_fallback", map[string]any{
		"requestedType": r.FallbackInfo.RequestedType,
		"fallbackType":  r.FallbackInfo.FallbackType,
		"reason":        r.FallbackInfo.Reason,
	})
}
