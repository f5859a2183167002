package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/symposium-dev/symposium-conductor/internal/conductor"
	"github.com/symposium-dev/symposium-conductor/internal/lifecycle"
	"github.com/symposium-dev/symposium-conductor/internal/logging"
)

var agentCmd = &cobra.Command{
	Use:   "agent <proxy-cmd>...",
	Short: "Run as a conductor wrapping an ordered chain of subprocesses",
	Long: `agent assembles the given commands into a chain: each earlier
command observes and forwards traffic to the next, and the last command is
the terminal agent (or a proxy acting as one). The chain communicates with
the editor over this process's own stdio.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.Conductor()

	components, err := spawnComponents(ctx, args, nil, logger)
	if err != nil {
		return err
	}

	cond, err := buildConductor(ctx, conductor.NewStdioComponent(os.Stdin, os.Stdout), components, logger)
	if err != nil {
		return fmt.Errorf("build conductor chain: %w", err)
	}

	sm := lifecycle.NewShutdownManager()
	sm.AddCleanup(func(reason string) { cond.Shutdown() })
	sm.Start()
	go func() {
		<-sm.Done()
		cancel()
	}()

	waitErr := cond.Wait()
	sm.Shutdown("editor-eof")
	return waitErr
}
