// Package session models the closed variant set of live process-trees the
// core can be driving: a deterministic replay, a diverged clone of one used
// to evaluate debugger-side expressions, or a live recording exposed to GDB
// on crash. Grounded in spec.md §3 and the Design Notes §9 guidance to use a
// tagged variant with explicit methods instead of open inheritance — the
// same shape the teacher used for its single engineState, generalized to
// three cooperating concrete types behind one interface.
package session

import (
	"fmt"

	"github.com/Calinou/rd/internal/taskmodel"
)

// FrameTime is the monotonically increasing event counter indexing trace
// frames. Event 0 is never a valid frame time; it's used as a sentinel.
type FrameTime int64

// TraceFrame is one recorded event: a syscall, signal, or scheduling point,
// at a given event time, with the tick count and registers observed there.
type TraceFrame struct {
	Time  FrameTime
	Tuid  taskmodel.TaskUid
	Ticks int64
	Regs  taskmodel.Registers
}

// Kind distinguishes the three session variants for callers that need to
// branch (the tagged-variant alternative to a type switch on the interface).
type Kind int

const (
	KindReplay Kind = iota
	KindDiversion
	KindEmergencyDebug
)

func (k Kind) String() string {
	switch k {
	case KindReplay:
		return "replay"
	case KindDiversion:
		return "diversion"
	case KindEmergencyDebug:
		return "emergency-debug"
	default:
		return "unknown-session-kind"
	}
}

// Session is the narrow surface every subsystem needs from a live
// process-tree. CurrentTask returns ok=false when no task is scheduled (the
// session has exited, or is between exec and the first task becoming
// runnable).
type Session interface {
	Kind() Kind
	CurrentTask() (taskmodel.Task, bool)
	CurrentFrameTime() FrameTime
	Tasks() map[taskmodel.TaskUid]taskmodel.Task
	// DidInitialExec reports whether the traced program has completed the
	// exec that replaces the bootstrap image with the recorded binary.
	// GdbServer.AtTarget consults this.
	DidInitialExec() bool
	// MidInstruction reports whether the session is stopped somewhere that
	// cannot be safely cloned (e.g. inside the kernel crossing an exec
	// boundary). ReplayTimeline.CanAddCheckpoint does not read it; it asks
	// its Replayer's CanCheckpoint instead.
	MidInstruction() bool
}

// Cloner is implemented by sessions that can produce an independent copy of
// themselves at the current point — the operation ReplayTimeline's
// checkpoints and GdbServer's diversions both depend on.
type Cloner interface {
	Session
	Clone() (Session, error)
}

// ReplaySession deterministically re-executes a previously recorded trace.
type ReplaySession struct {
	tasks       map[taskmodel.TaskUid]taskmodel.Task
	current     taskmodel.TaskUid
	hasCurrent  bool
	frameTime   FrameTime
	didExec     bool
	midInsn     bool
	finalEvent  FrameTime
	rrStepperFn func() (TraceFrame, bool, error) // advances one recorded event; replaced by the trace collaborator
}

// NewReplaySession constructs a replay session over a trace that ends at
// finalEvent (exclusive), per spec.md §4.2's RestartFromEvent clamp.
func NewReplaySession(finalEvent FrameTime) *ReplaySession {
	return &ReplaySession{
		tasks:      make(map[taskmodel.TaskUid]taskmodel.Task),
		finalEvent: finalEvent,
	}
}

func (s *ReplaySession) Kind() Kind { return KindReplay }

func (s *ReplaySession) CurrentTask() (taskmodel.Task, bool) {
	if !s.hasCurrent {
		return nil, false
	}
	t, ok := s.tasks[s.current]
	return t, ok
}

func (s *ReplaySession) CurrentFrameTime() FrameTime { return s.frameTime }

func (s *ReplaySession) Tasks() map[taskmodel.TaskUid]taskmodel.Task { return s.tasks }

func (s *ReplaySession) DidInitialExec() bool { return s.didExec }

func (s *ReplaySession) MidInstruction() bool { return s.midInsn }

func (s *ReplaySession) FinalEvent() FrameTime { return s.finalEvent }

// SetTask installs or updates a task's presence in the session and, if
// makeCurrent, schedules it. Exercised by the replay stepper collaborator
// (out of scope per spec.md §1) and directly by tests.
func (s *ReplaySession) SetTask(t taskmodel.Task, makeCurrent bool) {
	s.tasks[t.Tuid()] = t
	if makeCurrent {
		s.current = t.Tuid()
		s.hasCurrent = true
	}
}

func (s *ReplaySession) RemoveTask(u taskmodel.TaskUid) {
	delete(s.tasks, u)
	if s.hasCurrent && s.current == u {
		s.hasCurrent = false
	}
}

func (s *ReplaySession) SetFrameTime(t FrameTime)  { s.frameTime = t }
func (s *ReplaySession) SetDidExec(v bool)         { s.didExec = v }
func (s *ReplaySession) SetMidInstruction(v bool)  { s.midInsn = v }

// Clone returns a copy of s for pinning as a checkpoint or forking into a
// DiversionSession. The copy has its own task map and bookkeeping fields,
// but the Task values in that map are the same ones s holds, not copies.
// Forking the underlying address-space/page-cache collaborator is out of
// scope, per spec.md §1.
func (s *ReplaySession) Clone() (Session, error) {
	clone := &ReplaySession{
		tasks:      make(map[taskmodel.TaskUid]taskmodel.Task, len(s.tasks)),
		current:    s.current,
		hasCurrent: s.hasCurrent,
		frameTime:  s.frameTime,
		didExec:    s.didExec,
		midInsn:    s.midInsn,
		finalEvent: s.finalEvent,
	}
	for k, v := range s.tasks {
		clone.tasks[k] = v
	}
	return clone, nil
}

// DiversionSession is a ReplaySession clone allowed to diverge: GDB's "call
// foo()" evaluation runs here so it can mutate registers/memory freely
// without corrupting the deterministic replay it was cloned from.
type DiversionSession struct {
	*ReplaySession
}

func NewDiversionSession(from *ReplaySession) (*DiversionSession, error) {
	cloned, err := from.Clone()
	if err != nil {
		return nil, fmt.Errorf("diverting session: %w", err)
	}
	rs, ok := cloned.(*ReplaySession)
	if !ok {
		return nil, fmt.Errorf("diverting session: clone returned unexpected type %T", cloned)
	}
	return &DiversionSession{ReplaySession: rs}, nil
}

func (s *DiversionSession) Kind() Kind { return KindDiversion }

// EmergencyDebugSession exposes a live recording session to GDB when the
// recorder itself crashes, so the user can inspect the process that was
// being recorded at the moment of the crash. It never replays; it is
// whatever live process state ptrace reports right now.
type EmergencyDebugSession struct {
	tasks   map[taskmodel.TaskUid]taskmodel.Task
	current taskmodel.TaskUid
	hasCur  bool
}

func NewEmergencyDebugSession() *EmergencyDebugSession {
	return &EmergencyDebugSession{tasks: make(map[taskmodel.TaskUid]taskmodel.Task)}
}

func (s *EmergencyDebugSession) Kind() Kind { return KindEmergencyDebug }

func (s *EmergencyDebugSession) CurrentTask() (taskmodel.Task, bool) {
	if !s.hasCur {
		return nil, false
	}
	t, ok := s.tasks[s.current]
	return t, ok
}

func (s *EmergencyDebugSession) CurrentFrameTime() FrameTime { return 0 }

func (s *EmergencyDebugSession) Tasks() map[taskmodel.TaskUid]taskmodel.Task { return s.tasks }

func (s *EmergencyDebugSession) DidInitialExec() bool { return true }

func (s *EmergencyDebugSession) MidInstruction() bool { return false }

func (s *EmergencyDebugSession) SetTask(t taskmodel.Task, makeCurrent bool) {
	s.tasks[t.Tuid()] = t
	if makeCurrent {
		s.current = t.Tuid()
		s.hasCur = true
	}
}
