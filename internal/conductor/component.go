package conductor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/shlex"
	"github.com/symposium-dev/symposium-conductor/internal/jsonrpc"
	"github.com/symposium-dev/symposium-conductor/internal/runner"
)

// Component is a chain member with its own stdio-like byte stream pair, per
// §4.5 "a stdio pair per hop when spawning subprocesses; in-memory duplex
// streams when instantiating in-process components".
type Component interface {
	// Streams returns the byte streams the conductor should wrap as a
	// jsonrpc.Connection: r is what the component writes (our read side),
	// w is what the component reads (our write side).
	Streams() (r io.Reader, w io.WriteCloser)
	// Wait blocks until the component exits and returns its outcome.
	Wait() error
	// Kill terminates the component immediately, per §4.5's "child
	// processes are always killed on conductor drop".
	Kill() error
}

// ParseCommand tokenizes a proxy-cmd string with shell-aware quoting.
func ParseCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// subprocessComponent spawns a chain member as a child process, through the
// restricted runner when one is configured.
type subprocessComponent struct {
	stdin  runner.WriteCloser
	stdout runner.ReadCloser
	wait   func() error
	cmd    *exec.Cmd // set only for the unrestricted exec path
}

// StartSubprocess launches command as a chain component. If r is non-nil,
// the process runs through the restricted runner (sandboxed); otherwise it
// is spawned directly.
func StartSubprocess(ctx context.Context, command string, r *runner.Runner, logger *slog.Logger) (Component, error) {
	args, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}

	if r != nil {
		stdin, stdout, stderr, wait, err := r.RunWithPipes(ctx, args[0], args[1:], os.Environ())
		if err != nil {
			return nil, fmt.Errorf("start %q through runner: %w", command, err)
		}
		go drainStderr(stderr, logger, command)
		return &subprocessComponent{stdin: stdin, stdout: stdout, wait: wait}, nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe for %q: %w", command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %q: %w", command, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	return &subprocessComponent{stdin: stdin, stdout: stdout, wait: cmd.Wait, cmd: cmd}, nil
}

func drainStderr(stderr runner.ReadCloser, logger *slog.Logger, command string) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 && logger != nil {
			logger.Debug("component stderr", "command", command, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (c *subprocessComponent) Streams() (io.Reader, io.WriteCloser) { return c.stdout, c.stdin }

func (c *subprocessComponent) Wait() error {
	if c.wait != nil {
		return c.wait()
	}
	return nil
}

// Kill kills a process started on the unrestricted exec path. A process
// started through the restricted runner is not killed here: Kill returns
// nil for it without signalling anything.
func (c *subprocessComponent) Kill() error {
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// stdioComponent wraps an already-open stream pair (the editor-facing hop,
// or a test double) as a Component.
type stdioComponent struct {
	r io.Reader
	w io.WriteCloser
}

// NewStdioComponent wraps r/w (typically os.Stdin/os.Stdout) as the
// editor-facing hop.
func NewStdioComponent(r io.Reader, w io.WriteCloser) Component {
	return &stdioComponent{r: r, w: w}
}

func (c *stdioComponent) Streams() (io.Reader, io.WriteCloser) { return c.r, c.w }
func (c *stdioComponent) Wait() error                          { return nil }
func (c *stdioComponent) Kill() error                          { return c.w.Close() }

// NewLoopbackEditor builds an in-process editor Component backed by a pair
// of crossed in-memory pipes, for embedding a conductor behind a
// multiplexing front end (internal/sessionrouter) instead of real process
// stdio. It returns the Component to install as Config.Editor, and a
// Connection that is the front end's own view of hop 0: sending a request
// on its Cx reaches the conductor exactly as if the editor had sent it, and
// its Serve loop receives whatever the conductor addresses to the editor
// (agent-initiated requests such as permission checks, and session
// notifications) so the front end can relay them to whichever real
// connection it is multiplexing.
func NewLoopbackEditor() (Component, *jsonrpc.Connection) {
	toHop, fromFrontEnd := io.Pipe()
	toFrontEnd, fromHop := io.Pipe()
	editorComp := NewStdioComponent(toHop, fromHop)
	frontEndConn := jsonrpc.NewConnection(toFrontEnd, fromFrontEnd)
	return editorComp, frontEndConn
}

// newHopConnection wraps a Component's streams as a jsonrpc.Connection.
func newHopConnection(comp Component) *jsonrpc.Connection {
	r, w := comp.Streams()
	return jsonrpc.NewConnection(r, w)
}
