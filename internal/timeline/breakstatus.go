package timeline

import "github.com/Calinou/rd/internal/taskmodel"

// WatchType classifies a watchpoint's trigger condition. spec.md §4.2 maps
// GDB's four read/write request kinds onto these three: x86 has no
// read-only hardware watchpoint, so RD_WATCH and RDWR_WATCH both upgrade to
// WatchReadWrite.
type WatchType int

const (
	WatchExec WatchType = iota
	WatchWrite
	WatchReadWrite
)

// WatchHit is one watchpoint that fired during a step.
type WatchHit struct {
	Addr uint64
	Type WatchType
}

// Siginfo is the subset of siginfo_t the core forwards to the GDB client
// verbatim; the kernel/ptrace collaborator (out of scope per spec.md §1)
// is responsible for the full platform-specific struct.
type Siginfo struct {
	Signo int32
	Code  int32
	Addr  uint64
}

// BreakStatus is produced by every step operation (spec.md §3). Task is a
// weak reference: per the Design Notes §9, it is resolved by looking the
// uid up in the session, never held as an ownership edge.
type BreakStatus struct {
	Task              taskmodel.TaskUid
	Watches           []WatchHit
	BreakpointHit     bool
	SinglestepComplete bool
	Signal            *Siginfo
	TaskExit          bool
}

// AnyStop reports whether anything worth notifying the GDB client about
// happened, per maybe_notify_stop's dispatch in spec.md §4.2.
func (b BreakStatus) AnyStop() bool {
	return b.BreakpointHit || b.SinglestepComplete || len(b.Watches) > 0 || b.Signal != nil || b.TaskExit
}

// ReplayResultStatus is the two-valued outcome of a forward or backward
// step, per spec.md §4.1.
type ReplayResultStatus int

const (
	ReplayContinue ReplayResultStatus = iota
	ReplayExited
)

// ReplayResult is what replay_step_forward / reverse_step return.
type ReplayResult struct {
	Status ReplayResultStatus
	Break  BreakStatus
}
