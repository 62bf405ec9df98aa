// Package logstream provides the ops, diag and trace logging streams that
// packages with per-message diagnostics expose through SetLogWriters.
//
//   - ops: actionable failures (skipped detections, failed removals)
//   - diag: per-message summaries
//   - trace: per-detection steps
package logstream

import (
	"io"
	"log"
)

// Streams is one package's set of log streams. A stream with no writer is
// silent. Writers are set once at startup, before logging begins.
type Streams struct {
	prefix string
	ops    *log.Logger
	diag   *log.Logger
	trace  *log.Logger
}

// New returns silent streams that will prefix lines with prefix.
func New(prefix string) *Streams {
	return &Streams{prefix: prefix}
}

// SetWriters configures the three streams. Pass nil to disable one.
func (s *Streams) SetWriters(ops, diag, trace io.Writer) {
	s.ops = s.newLogger(ops)
	s.diag = s.newLogger(diag)
	s.trace = s.newLogger(trace)
}

func (s *Streams) newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	if s.ops != nil {
		s.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	if s.diag != nil {
		s.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	if s.trace != nil {
		s.trace.Printf(format, args...)
	}
}
