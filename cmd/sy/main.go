// Tool sy is a file-synchronization client and server: it pushes or pulls
// a tree over a streaming delta protocol, spawning a peer subprocess (or
// answering as one under --server) the way gokr-rsync's clientmaincmd and
// rsyncd.handleConn set up their own connections.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DavidGamba/go-getoptions"
	"github.com/Xiechengqi/sy/internal/metrics"
	"github.com/Xiechengqi/sy/internal/restrict"
	"github.com/Xiechengqi/sy/internal/rsynclog"
	"github.com/Xiechengqi/sy/internal/session"
	"github.com/Xiechengqi/sy/internal/transport"
	"github.com/Xiechengqi/sy/internal/wire"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(argv []string) error {
	opt := getoptions.New()
	opt.Bool("help", false, opt.Alias("h"))
	server := opt.Bool("server", false)
	deleteFlag := opt.Bool("delete", false)
	compress := opt.Bool("compress", false, opt.Alias("z"))
	shellCmd := opt.String("rsh", "", opt.Alias("e"))
	metricsAddr := opt.String("metrics-addr", "")
	verbose := opt.Bool("v", false)

	remaining, err := opt.Parse(argv[1:])
	if err != nil {
		return fmt.Errorf("sy: %w", err)
	}
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := rsynclog.WithSessionID(rsynclog.New(os.Stderr))
	if *verbose {
		logger = rsynclog.WithSessionID(rsynclog.NewVerbose(os.Stderr))
	}

	if *server {
		if len(remaining) != 1 {
			return fmt.Errorf("sy: --server takes exactly one root argument")
		}
		return runServer(ctx, remaining[0], logger, metricsAddr)
	}

	if len(remaining) != 2 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("sy: expected SRC and DEST arguments")
	}
	return runClient(ctx, remaining[0], remaining[1], clientFlags{
		deleteEnabled: *deleteFlag,
		compress:      *compress,
		shellCommand:  *shellCmd,
	}, logger)
}

const usage = `usage:
  sy [options] SRC DEST         push or pull a tree
  sy --server ROOT              answer as the peer of another sy process

A local or remote endpoint is "[user@]host:path" or a bare local path; at
most one of SRC/DEST may carry a host. Options:
  --delete          remove dest files absent from the source
  --compress, -z    negotiate zstd-compressed transfer
  --rsh, -e CMD     remote shell command (default $RSYNC_RSH or ssh)
  --metrics-addr    serve Prometheus metrics at this address (--server only)
  -v                verbose logging
`

type clientFlags struct {
	deleteEnabled bool
	compress      bool
	shellCommand  string
}

// endpoint is a parsed "[user@]host:path" or bare local path, mirroring
// the teacher's checkForHostspec (internal/maincmd/clientmaincmd.go).
type endpoint struct {
	host string // empty for a local path
	path string
}

func parseEndpoint(s string) endpoint {
	// A leading "./" or "/" never carries a host; a bare "host:path" does.
	// This mirrors rsync's own rule that a colon after the first path
	// separator does not introduce a host. A drive-style "C:/dir" has its
	// colon before any separator, so it parses as host "C".
	if idx := strings.IndexByte(s, ':'); idx > 0 && !strings.ContainsRune(s[:idx], '/') {
		return endpoint{host: s[:idx], path: s[idx+1:]}
	}
	return endpoint{path: s}
}

func runClient(ctx context.Context, srcArg, destArg string, flags clientFlags, logger rsynclog.Logger) error {
	src := parseEndpoint(srcArg)
	dest := parseEndpoint(destArg)
	if src.host != "" && dest.host != "" {
		return fmt.Errorf("sy: at most one of SRC, DEST may be remote")
	}

	var (
		role       session.Role
		localRoot  string
		remoteHost string
		remoteRoot string
	)
	switch {
	case dest.host != "":
		role = session.RoleSource
		localRoot = src.path
		remoteHost, remoteRoot = dest.host, dest.path
	case src.host != "":
		role = session.RoleDest
		localRoot = dest.path
		remoteHost, remoteRoot = src.host, src.path
	default:
		// Both local: push from src to dest via a local --server subprocess,
		// exactly as the teacher treats two local paths (SetLocalServer).
		role = session.RoleSource
		localRoot = src.path
		remoteRoot = dest.path
	}

	stream, err := transport.Spawn(ctx, transport.Options{
		Host:         remoteHost,
		ShellCommand: flags.shellCommand,
		Root:         remoteRoot,
	}, logger)
	if err != nil {
		return fmt.Errorf("sy: spawning peer: %w", err)
	}
	defer stream.Close()

	conn := &wire.Conn{Reader: stream, Writer: stream}
	done, err := session.Run(ctx, conn, session.SideClient, role, session.Options{
		Root:          localRoot,
		DeleteEnabled: flags.deleteEnabled,
		Compress:      flags.compress,
	}, logger)
	if err != nil {
		return fmt.Errorf("sy: %w", err)
	}
	logger.Printf("done: %d ok, %d skipped, %d err, %d bytes (%d full, %d delta)",
		done.FilesOK, done.FilesSkipped, done.FilesErr, done.Bytes, done.FilesFull, done.FilesDelta)
	return nil
}

// runServer implements the process contract: stdin/stdout is the binary
// channel, stderr is the log sink, root is created if missing, and the
// process exits on a clean terminal Done or a hard protocol error.
func runServer(ctx context.Context, root string, logger rsynclog.Logger, metricsAddr *string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("sy: creating server root %s: %w", root, err)
	}
	if err := restrict.ToRoot(root); err != nil {
		logger.Printf("sy: restrict.ToRoot: %v", err)
	}

	var m *metrics.Metrics
	if metricsAddr != nil && *metricsAddr != "" {
		m = metrics.New()
		srv := &http.Server{Addr: *metricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("sy: metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	conn := &wire.Conn{Reader: os.Stdin, Writer: os.Stdout}
	done, err := session.Run(ctx, conn, session.SideServer, session.RoleDest /* overridden by peer Hello */, session.Options{
		Root: root,
	}, logger)
	if m != nil {
		m.Observe(done)
	}
	if err != nil {
		return fmt.Errorf("sy: server: %w", err)
	}
	logger.Printf("server done: %d ok, %d skipped, %d err, %d bytes", done.FilesOK, done.FilesSkipped, done.FilesErr, done.Bytes)
	return nil
}
