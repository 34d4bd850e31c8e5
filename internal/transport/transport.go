// Package transport spawns the peer process a session talks to: either a
// local subprocess (both sides on the same machine, used heavily by tests
// and by "sy SRC DEST" invocations with no host in either path) or a
// subprocess reached by a remote shell command (ssh by default), mirroring
// the teacher's do_cmd (internal/maincmd/clientmaincmd.go).
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/Xiechengqi/sy/internal/rsynclog"
	"github.com/google/shlex"
)

// Stream is a duplex byte stream to the peer process: writes go to its
// stdin, reads come from its stdout.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Options configures one peer process spawn.
type Options struct {
	// Host is the remote machine, "user@host" or "host". Empty means the
	// peer runs as a local subprocess.
	Host string
	// ShellCommand overrides the remote shell invocation (the "-e" flag).
	// Empty means $RSYNC_RSH, falling back to "ssh".
	ShellCommand string
	// ServerPath is the peer binary to invoke. Empty means: the current
	// executable's own absolute path for a local peer, or a bare "sy"
	// (resolved against the remote $PATH) for a remote one.
	ServerPath string
	// Root is the sync root the spawned peer serves, passed as its
	// "--server <root>" argument.
	Root string
}

// Spawn starts the peer process and returns a duplex Stream to it. The
// returned Stream's Close also waits for the subprocess to exit.
func Spawn(ctx context.Context, opts Options, logger rsynclog.Logger) (Stream, error) {
	if logger == nil {
		logger = rsynclog.Discard
	}
	serverPath, err := defaultServerPath(opts)
	if err != nil {
		return nil, err
	}

	args, err := argv(opts, serverPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: starting %q: %w", args, err)
	}

	return &processStream{cmd: cmd, stdin: stdin, stdout: stdout, logger: logger}, nil
}

// defaultServerPath resolves opts.ServerPath when left unset. A local peer
// (no Host) is invoked by its absolute path, since it's this same binary
// running again on this machine. A remote peer is invoked by a bare,
// PATH-resolvable name instead: the local executable's absolute path means
// nothing on the far side of the ssh connection, mirroring the teacher's
// doCmd, which only ever uses the local executable path for its
// local-server branch.
func defaultServerPath(opts Options) (string, error) {
	if opts.ServerPath != "" {
		return opts.ServerPath, nil
	}
	if opts.Host == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("transport: resolving own executable: %w", err)
		}
		return exe, nil
	}
	return "sy", nil
}

// argv builds the subprocess argv: a bare local invocation of serverPath,
// or a remote-shell-wrapped one built with shlex the same way the teacher
// splits RSYNC_RSH/"-e" commands, since rsync's own ad hoc shell-style
// parsing has no behavior worth reproducing here.
func argv(opts Options, serverPath string) ([]string, error) {
	if opts.Host == "" {
		return []string{serverPath, "--server", opts.Root}, nil
	}

	shellCmd := opts.ShellCommand
	if shellCmd == "" {
		shellCmd = os.Getenv("RSYNC_RSH")
	}
	if shellCmd == "" {
		shellCmd = "ssh"
	}
	args, err := shlex.Split(shellCmd)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing remote shell command %q: %w", shellCmd, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transport: empty remote shell command")
	}

	args = append(args, opts.Host, "--", serverPath, "--server", opts.Root)
	return args, nil
}

// processStream wires a subprocess's stdin/stdout into one duplex Stream.
type processStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger rsynclog.Logger
}

func (p *processStream) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processStream) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processStream) Close() error {
	stdinErr := p.stdin.Close()
	stdoutErr := p.stdout.Close()
	waitErr := p.cmd.Wait()
	if waitErr != nil {
		p.logger.Printf("transport: peer process exited: %v", waitErr)
	}
	if stdinErr != nil {
		return stdinErr
	}
	return stdoutErr
}
