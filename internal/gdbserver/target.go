package gdbserver

import (
	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
)

// Target describes which process/event GdbServer should stop the replay at
// before it starts serving a client, per spec.md §4.2's lifecycle step 1.
type Target struct {
	// Pid is the thread-group to stop at; unset (Valid false) means "any".
	Pid taskmodel.OptionalThreadGroupUid
	// RequireExec demands the target task has completed its initial exec.
	RequireExec bool
	// MinEventTime is exclusive: at_target() accepts only event times
	// strictly greater than it.
	MinEventTime session.FrameTime
}

// ConnectionFlags configures serve_replay, per spec.md §4.2.
type ConnectionFlags struct {
	// DbgPort is the fixed port to listen on; zero probes a port derived
	// from the process's own pid, per spec.md §4.2.
	DbgPort int
	// KeepListening causes serve_replay to accept another connection after
	// one disconnects, instead of returning.
	KeepListening bool
	// DebuggerParamsWriteFd, if non-nil, receives exactly one
	// DebuggerParams record so a supervisor can exec a GDB client, per
	// spec.md §6.
	DebuggerParamsWriteFd WriteCloserFd
}

// WriteCloserFd is the narrow pipe-writing surface serve_replay needs; an
// *os.File satisfies it. Kept as an interface so tests can substitute an
// in-memory buffer.
type WriteCloserFd interface {
	Write([]byte) (int, error)
	Close() error
}
