// Package session carries the state that would otherwise live as
// mutable process-wide globals: the term dictionary, the PV memory
// watermark, and a verbosity level. A *Session is threaded explicitly
// through every operation instead. The lexer is not held here; it is
// passed as its own argument to each operation that needs one.
package session

import (
	"io"
	"log"

	"github.com/cognicore/bow/pkg/bow/dict"
)

// Verbosity controls how much diagnostic logging an operation emits.
type Verbosity int

const (
	Quiet Verbosity = iota
	Normal
	Verbose
)

// DefaultPVWatermark is the global in-memory PV byte budget: 128 MiB.
// Crossing it should trigger a flush of at least the PV whose write
// pushed the total over the line.
const DefaultPVWatermark = 128 * 1024 * 1024

// Session bundles the state a single indexing or query run needs. It
// is not safe for concurrent use from multiple goroutines — the core
// assumes a single indexing thread; a query server that wants
// concurrency gives each connection its own read cursors but shares one
// Session's dictionary and watermark counter under external
// synchronization if it mutates them.
type Session struct {
	Dict *dict.Dict

	// PVWatermark is the configured byte budget for in-memory PV write
	// buffers; PVUsed tracks the current total across all open PVs
	// registered with this session.
	PVWatermark int64
	PVUsed      int64

	Verbosity Verbosity
	Log       *log.Logger
}

// New creates a Session with a fresh dictionary and the default
// watermark. reserveUnknown is forwarded to dict.New.
func New(reserveUnknown bool) *Session {
	return &Session{
		Dict:        dict.New(reserveUnknown),
		PVWatermark: DefaultPVWatermark,
		Verbosity:   Normal,
		Log:         log.New(io.Discard, "", 0),
	}
}

// WithLogger replaces the session's logger (cmd/rainbow wires stderr;
// tests keep the discard default).
func (s *Session) WithLogger(l *log.Logger) *Session {
	s.Log = l
	return s
}

// RegisterPVBytes adds delta (positive on grow, negative on flush) to
// the session-wide PV memory counter and reports whether the watermark
// is now exceeded. The caller decides which PV(s) to flush in response;
// which PV to prefer when over budget is left implementation-defined,
// so this just reports the crossing.
func (s *Session) RegisterPVBytes(delta int64) (overWatermark bool) {
	s.PVUsed += delta
	if s.PVUsed < 0 {
		s.PVUsed = 0
	}
	return s.PVUsed > s.PVWatermark
}

// Logf emits a diagnostic line if the session's verbosity is at or
// above Normal.
func (s *Session) Logf(format string, args ...any) {
	if s.Verbosity == Quiet {
		return
	}
	s.Log.Printf(format, args...)
}
