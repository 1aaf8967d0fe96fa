package gdbserver

import (
	"errors"
	"fmt"

	"github.com/Calinou/rd/internal/rdlog"
	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
	"github.com/Calinou/rd/internal/timeline"
)

// ErrUnknownGdbRequest is spec.md §7's UnknownGdbRequest: fatal, since it
// indicates a protocol-decoder bug rather than anything tracee- or
// client-caused.
var ErrUnknownGdbRequest = errors.New("gdbserver: unknown request kind")

// GdbCommandHandler services qRDCmd requests (spec.md §4.2): an
// operator-extension channel separate from the standard GDB remote
// protocol, the way the teacher's diversionSessionCmd evaluates a DBGP
// command by invoking a gdb-side helper expression.
type GdbCommandHandler interface {
	Handle(cmd string) (reply string)
}

// connState is the per-connection state machine spec.md §4.2 describes:
// AwaitingConnection -> Serving -> (Serving | Diverting)* -> Disconnected.
type connState int

const (
	StateAwaitingConnection connState = iota
	StateServing
	StateDiverting
	StateDisconnected
)

// Server is GdbServer: the front-end state machine driving a
// timeline.ReplayTimeline in response to GdbRequests. Grounded in the
// teacher's engineState (engine/base.go): one long-lived object holding the
// inner engine handle, a breakpoint/checkpoint table, and the "last
// sequence number"-style bookkeeping generalized here to
// lastContinueTuid/lastQueryTuid.
type Server struct {
	Timeline *timeline.ReplayTimeline
	target   Target

	sess session.Session

	checkpoints *checkpointTable
	files       *vfileTable
	cmdHandler  GdbCommandHandler

	debuggeeTguid    taskmodel.ThreadGroupUid
	debuggeeTguidSet bool

	lastContinueTuid taskmodel.OptionalTaskUid
	lastQueryTuid    taskmodel.OptionalTaskUid

	interruptPending        bool
	stopReplayingToTarget   bool
	debuggerRestartCheckpoint     timeline.Mark
	hasDebuggerRestartCheckpoint  bool

	reverseExecutionEnabled bool
	finalEvent              session.FrameTime

	eval timeline.ExpressionEvaluator

	state connState
	diversion *diversionState
}

// New constructs a server bound to tl over sess and target, per spec.md
// §4.2's lifecycle step 1.
func New(sess session.Session, tl *timeline.ReplayTimeline, target Target) *Server {
	return &Server{
		Timeline:    tl,
		target:      target,
		sess:        sess,
		checkpoints: newCheckpointTable(),
		files:       newVFileTable(),
		state:       StateAwaitingConnection,
	}
}

// SetCommandHandler installs the qRDCmd handler.
func (s *Server) SetCommandHandler(h GdbCommandHandler) { s.cmdHandler = h }

// SetExpressionEvaluator installs the watchpoint-condition evaluator.
func (s *Server) SetExpressionEvaluator(e timeline.ExpressionEvaluator) { s.eval = e }

// SetReverseExecution toggles whether DREQ_CONT requests are honored in the
// backward direction, the rd analogue of the teacher's debuggerLoop
// toggling its mutex-guarded *reverse bool. Satisfies console.Controller.
func (s *Server) SetReverseExecution(reverse bool) { s.reverseExecutionEnabled = reverse }

// ReverseExecution reports the current toggle set by SetReverseExecution.
func (s *Server) ReverseExecution() bool { return s.reverseExecutionEnabled }

// InterruptReplayToTarget is the async entry point spec.md §5 describes:
// set from a signal handler, so it must do nothing but flip a flag.
func (s *Server) InterruptReplayToTarget() {
	s.stopReplayingToTarget = true
}

// AtTarget implements spec.md §4.2's at_target() predicate.
func (s *Server) AtTarget() bool {
	if s.stopReplayingToTarget {
		return true
	}
	if !s.sess.DidInitialExec() {
		return false
	}
	task, ok := s.sess.CurrentTask()
	if !ok {
		return false
	}
	if !s.Timeline.CanAddCheckpoint() {
		return false
	}
	if s.sess.CurrentFrameTime() <= s.target.MinEventTime {
		return false
	}
	if s.target.Pid.Valid && task.ThreadGroup().Tguid() != s.target.Pid.Uid {
		return false
	}
	if s.target.RequireExec && !task.ThreadGroup().DidExec() {
		return false
	}
	if s.sess.MidInstruction() {
		return false
	}
	return true
}

// ActivateDebugger is spec.md §4.2's activate_debugger(): called once per
// new connection. It pins an explicit restart checkpoint (falling back to
// a non-explicit mark if the session cannot be cloned right now) and
// records debuggee_tguid exactly once.
func (s *Server) ActivateDebugger() error {
	mark, err := s.Timeline.AddExplicitCheckpoint("debugger-restart")
	if err != nil && !errors.Is(err, timeline.ErrCannotCheckpointHere) {
		return fmt.Errorf("activating debugger: %w", err)
	}
	s.debuggerRestartCheckpoint = mark
	s.hasDebuggerRestartCheckpoint = true

	if !s.debuggeeTguidSet {
		task, ok := s.sess.CurrentTask()
		if !ok {
			return fmt.Errorf("activating debugger: no current task")
		}
		s.debuggeeTguid = task.ThreadGroup().Tguid()
		s.debuggeeTguidSet = true
	}
	s.state = StateServing
	return nil
}

// Deactivate clears all breakpoints/watchpoints, per spec.md §4.2's "on
// exit, clear all breakpoints and watchpoints".
func (s *Server) Deactivate() {
	s.Timeline.Breakpoints().RemoveAll()
	s.files.CloseAll()
	s.state = StateDisconnected
}

func toTimelineDirection(d RunDirection) timeline.RunDirection {
	if d == RunBackward {
		return timeline.RunBackward
	}
	return timeline.RunForward
}

func watchTypeFor(kind RequestKind) (timeline.WatchType, bool) {
	switch kind {
	case ReqSetHWBreak, ReqRemoveHWBreak:
		return timeline.WatchExec, true
	case ReqSetWRWatch, ReqRemoveWRWatch:
		return timeline.WatchWrite, true
	case ReqSetRDWatch, ReqRemoveRDWatch, ReqSetRDWRWatch, ReqRemoveRDWRWatch:
		// x86 has no read-only hardware watchpoint: upgrade, per spec.md
		// §4.2.
		return timeline.WatchReadWrite, true
	default:
		return 0, false
	}
}
