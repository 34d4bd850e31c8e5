// Package session orchestrates one push or pull transfer end to end: the
// Hello handshake, Initial Exchange, the concurrent Generator/Sender/
// Receiver pipeline, and the terminal Done summary, mirroring the shape of
// the teacher's Transfer.Do (internal/receiver/do.go) generalized from two
// concurrent goroutines to this protocol's three-task pipeline.
package session

import (
	"bufio"
	"context"
	"fmt"

	"github.com/Xiechengqi/sy/internal/generator"
	"github.com/Xiechengqi/sy/internal/receiver"
	"github.com/Xiechengqi/sy/internal/rsynclog"
	"github.com/Xiechengqi/sy/internal/scan"
	"github.com/Xiechengqi/sy/internal/sender"
	"github.com/Xiechengqi/sy/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Role selects which half of the pipeline this process runs for one
// session: the source side scans and sends, the dest side receives and
// applies.
type Role int

const (
	RoleSource Role = iota
	RoleDest
)

// Side distinguishes who writes the first Hello: the Client always
// initiates (push or pull), the Server always answers, so a --server
// process spawned without knowing in advance whether its peer is pushing
// or pulling can learn its own Role from the peer's Hello.Flags instead
// of needing it passed in.
type Side int

const (
	SideClient Side = iota
	SideServer
)

// DefaultBlockSize is the delta engine's block granularity (spec §6).
const DefaultBlockSize = 4096

// Options configures one session.Run call.
type Options struct {
	Root          string // local sync root for this side
	DeleteEnabled bool
	Compress      bool
	BlockSize     uint32
	DeltaMinSize  uint64
}

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.DeltaMinSize == 0 {
		o.DeltaMinSize = generator.DefaultDeltaMinSize
	}
	return o
}

func (o Options) helloFlags() uint32 {
	var f uint32
	if o.DeleteEnabled {
		f |= wire.FlagDelete
	}
	if o.Compress {
		f |= wire.FlagCompression
	}
	return f
}

// connEmitter adapts a *wire.Conn to the Emit(ctx, Message) interface both
// sender.Sender and receiver.ScanDestination expect, so both tasks write
// frames through the same connection without depending on each other's
// package.
type connEmitter struct {
	conn *wire.Conn
}

func (e *connEmitter) Emit(ctx context.Context, m wire.Message) error {
	return e.conn.WriteMessage(m)
}

// Run performs the Hello handshake, Initial Exchange, and transfer for one
// session, returning the terminal Done summary. side picks who writes the
// first Hello; role picks which half of the pipeline this call runs, and
// is ignored for SideServer, which instead derives its role from the
// peer's Hello.Flags (FlagPull) since a spawned --server process is not
// told in advance whether its peer is pushing or pulling.
func Run(ctx context.Context, conn *wire.Conn, side Side, role Role, opts Options, logger rsynclog.Logger) (wire.Done, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = rsynclog.Discard
	}
	switch side {
	case SideClient:
		return runClient(ctx, conn, role, opts, logger)
	case SideServer:
		return runServer(ctx, conn, opts, logger)
	default:
		return wire.Done{}, fmt.Errorf("session: unknown side %d", side)
	}
}

// runClient always writes its Hello first, announcing FlagPull when it
// will act as the dest (pulling from the peer), then dispatches to the
// matching pipeline half.
func runClient(ctx context.Context, conn *wire.Conn, role Role, opts Options, logger rsynclog.Logger) (wire.Done, error) {
	flags := opts.helloFlags()
	if role == RoleDest {
		flags |= wire.FlagPull
	}
	hello := wire.Hello{Version: wire.ProtocolVersion, Flags: flags, Path: opts.Root}
	if err := conn.WriteMessage(hello); err != nil {
		return wire.Done{}, fmt.Errorf("session: writing Hello: %w", err)
	}
	if err := conn.Flush(); err != nil {
		return wire.Done{}, err
	}

	peer, err := readHello(conn)
	if err != nil {
		return wire.Done{}, err
	}
	if err := wire.CheckVersion(peer.Version); err != nil {
		return wire.Done{}, err
	}

	switch role {
	case RoleSource:
		return sourceBody(ctx, conn, opts, logger)
	case RoleDest:
		opts.DeleteEnabled = peer.Flags&wire.FlagDelete != 0
		return destBody(ctx, conn, opts, logger)
	default:
		return wire.Done{}, fmt.Errorf("session: unknown role %d", role)
	}
}

// runServer always reads its peer's Hello first, learns its role from
// FlagPull (set by a pulling client, which is then this side's Source),
// answers with its own Hello, and dispatches to the matching pipeline
// half.
func runServer(ctx context.Context, conn *wire.Conn, opts Options, logger rsynclog.Logger) (wire.Done, error) {
	peer, err := readHello(conn)
	if err != nil {
		return wire.Done{}, err
	}
	if err := wire.CheckVersion(peer.Version); err != nil {
		return wire.Done{}, err
	}

	pulling := peer.Flags&wire.FlagPull != 0
	// The client's delete/compress choices hold in both directions; echoing
	// them in this side's Hello lets a pulling client read them back.
	opts.DeleteEnabled = peer.Flags&wire.FlagDelete != 0
	opts.Compress = peer.Flags&wire.FlagCompression != 0

	hello := wire.Hello{Version: wire.ProtocolVersion, Flags: opts.helloFlags(), Path: opts.Root}
	if err := conn.WriteMessage(hello); err != nil {
		return wire.Done{}, fmt.Errorf("session: writing Hello: %w", err)
	}
	if err := conn.Flush(); err != nil {
		return wire.Done{}, err
	}

	if pulling {
		return sourceBody(ctx, conn, opts, logger)
	}
	return destBody(ctx, conn, opts, logger)
}

func sourceBody(ctx context.Context, conn *wire.Conn, opts Options, logger rsynclog.Logger) (wire.Done, error) {
	idx := generator.NewIndex()
	for {
		m, err := conn.ReadMessage()
		if err != nil {
			return wire.Done{}, fmt.Errorf("session: reading Initial Exchange: %w", err)
		}
		if _, done := m.(wire.DestFileEnd); done {
			break
		}
		entry, ok := m.(wire.DestFileEntry)
		if !ok {
			return wire.Done{}, &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("session: expected DestFileEntry, got %T", m)}
		}
		idx.Add(entry)
	}

	scanner := scan.NewWalker(scan.Options{})
	sink := generator.NewChannelSink()
	snd := sender.New(sender.Options{Root: opts.Root, Compress: opts.Compress}, logger, &connEmitter{conn})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer sink.Close()
		return generator.Generate(egCtx, scanner, opts.Root, idx, sink, generator.Options{
			DeleteEnabled: opts.DeleteEnabled,
			DeltaMinSize:  opts.DeltaMinSize,
		})
	})
	eg.Go(func() error {
		return snd.Run(egCtx, sink.C)
	})
	if err := eg.Wait(); err != nil {
		return wire.Done{}, err
	}
	if err := conn.Flush(); err != nil {
		return wire.Done{}, err
	}

	m, err := conn.ReadMessage()
	if err != nil {
		return wire.Done{}, fmt.Errorf("session: reading terminal Done: %w", err)
	}
	done, ok := m.(wire.Done)
	if !ok {
		return wire.Done{}, &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("session: expected Done, got %T", m)}
	}
	return done, nil
}

func destBody(ctx context.Context, conn *wire.Conn, opts Options, logger rsynclog.Logger) (wire.Done, error) {
	scanner := scan.NewWalker(scan.Options{})
	// Batch DestFileEntry frames into 64 KiB writes during the scan.
	batched := &wire.Conn{Reader: conn.Reader, Writer: bufio.NewWriterSize(conn.Writer, 64<<10)}
	if err := receiver.ScanDestination(ctx, scanner, opts.Root, opts.BlockSize, opts.DeltaMinSize, &connEmitter{batched}); err != nil {
		return wire.Done{}, fmt.Errorf("session: Initial Exchange scan: %w", err)
	}
	if err := batched.Flush(); err != nil {
		return wire.Done{}, err
	}

	rec := receiver.New(opts.Root, logger)
	sawFileEnd := false
	sawDeleteEnd := !opts.DeleteEnabled
	for !sawFileEnd || !sawDeleteEnd {
		m, err := conn.ReadMessage()
		if err != nil {
			rec.Abort()
			return wire.Done{}, fmt.Errorf("session: reading transfer stream: %w", err)
		}
		switch m.(type) {
		case wire.FileEnd:
			sawFileEnd = true
		case wire.DeleteEnd:
			sawDeleteEnd = true
		}
		if err := rec.Handle(ctx, m); err != nil {
			var pe *wire.ProtocolError
			if asProtocolError(err, &pe) {
				rec.Abort()
				return wire.Done{}, err
			}
			logger.Printf("session: %v", err)
		}
	}

	done := rec.Done()
	if err := conn.WriteMessage(done); err != nil {
		return wire.Done{}, fmt.Errorf("session: writing terminal Done: %w", err)
	}
	if err := conn.Flush(); err != nil {
		return wire.Done{}, err
	}
	return done, nil
}

func readHello(conn *wire.Conn) (wire.Hello, error) {
	m, err := conn.ReadMessage()
	if err != nil {
		return wire.Hello{}, fmt.Errorf("session: reading Hello: %w", err)
	}
	hello, ok := m.(wire.Hello)
	if !ok {
		return wire.Hello{}, &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("session: expected Hello, got %T", m)}
	}
	return hello, nil
}

func asProtocolError(err error, target **wire.ProtocolError) bool {
	pe, ok := err.(*wire.ProtocolError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
