package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/symposium-dev/symposium-conductor/internal/logging"
	"github.com/symposium-dev/symposium-conductor/internal/mcpbridge"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp <port>",
	Short: "Run the stdio<->TCP MCP bridge helper process",
	Long: `mcp connects to the conductor's loopback listener on port and
proxies newline-delimited JSON bidirectionally between this process's own
stdio and that TCP connection, until either side closes (spec §4.6).`,
	Args: cobra.ExactArgs(1),
	RunE: runMCPBridge,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCPBridge(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[0], err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return mcpbridge.RunBridge(ctx, port, os.Stdin, os.Stdout, logging.MCPBridge())
}
