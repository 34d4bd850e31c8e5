// Package rsynclog provides the small logging facade used throughout sy.
//
// It mirrors the shape of github.com/gokrazy/rsync/internal/log: a narrow
// interface instead of a concrete *log.Logger, so the Generator, Sender and
// Receiver tasks can log to the same sink without importing "log" directly,
// and so tests can swap in a t.Logf-backed implementation.
package rsynclog

import (
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
)

// Logger is the minimal logging surface sy depends on.
type Logger interface {
	Printf(format string, v ...interface{})
	Verbosef(format string, v ...interface{})
}

type stdLogger struct {
	verbose bool
	l       *log.Logger
}

// New returns a Logger writing to w, prefixed with a timestamp as per the
// standard library's log package defaults.
func New(w io.Writer) Logger {
	return &stdLogger{l: log.New(w, "", log.LstdFlags)}
}

// NewVerbose is like New but also emits Verbosef lines.
func NewVerbose(w io.Writer) Logger {
	return &stdLogger{verbose: true, l: log.New(w, "", log.LstdFlags)}
}

func (s *stdLogger) Printf(format string, v ...interface{}) {
	s.l.Output(2, fmt.Sprintf(format, v...))
}

func (s *stdLogger) Verbosef(format string, v ...interface{}) {
	if !s.verbose {
		return
	}
	s.l.Output(2, fmt.Sprintf(format, v...))
}

// discard implements Logger by doing nothing; used as a safe default so
// callers never need a nil check.
type discard struct{}

func (discard) Printf(string, ...interface{})   {}
func (discard) Verbosef(string, ...interface{}) {}

// Discard is a Logger that drops everything.
var Discard Logger = discard{}

// session wraps a Logger, prefixing every line with a short correlation id
// so interleaved Generator/Sender/Receiver output from concurrent sessions
// (e.g. in tests that run several pushes against the same stderr) can be
// told apart.
type session struct {
	id   string
	next Logger
}

// WithSessionID returns a Logger that prefixes every message with a short,
// newly generated correlation id. One is created per push/pull invocation.
func WithSessionID(next Logger) Logger {
	id := uuid.New().String()[:8]
	return &session{id: id, next: next}
}

func (s *session) Printf(format string, v ...interface{}) {
	s.next.Printf("[%s] "+format, append([]interface{}{s.id}, v...)...)
}

func (s *session) Verbosef(format string, v ...interface{}) {
	s.next.Verbosef("[%s] "+format, append([]interface{}{s.id}, v...)...)
}
