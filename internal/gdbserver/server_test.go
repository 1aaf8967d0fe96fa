package gdbserver

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
	"github.com/Calinou/rd/internal/timeline"
)

// fakeThreadGroup is the minimal taskmodel.ThreadGroup a fakeTask needs.
type fakeThreadGroup struct{}

func (fakeThreadGroup) Tguid() taskmodel.ThreadGroupUid { return taskmodel.ThreadGroupUid{Pid: 1} }
func (fakeThreadGroup) DidExec() bool                   { return true }

// fakeTask is a minimal taskmodel.Task whose registers a fakeReplayer can
// mutate in place, so that seeking the timeline is visible through the
// session the same way restoring a real checkpoint clone would be.
type fakeTask struct {
	uid  taskmodel.TaskUid
	regs taskmodel.Registers
}

func (t *fakeTask) Tuid() taskmodel.TaskUid              { return t.uid }
func (t *fakeTask) Tgid() int32                          { return t.uid.Pid }
func (t *fakeTask) RecTid() int32                        { return t.uid.Pid }
func (t *fakeTask) Regs() *taskmodel.Registers           { return &t.regs }
func (t *fakeTask) ExtraRegs() *taskmodel.ExtraRegisters { return &taskmodel.ExtraRegisters{} }
func (t *fakeTask) Arch() taskmodel.Arch                 { return taskmodel.ArchX64 }
func (t *fakeTask) VM() taskmodel.AddressSpace           { return fakeAddressSpace{} }
func (t *fakeTask) ThreadGroup() taskmodel.ThreadGroup   { return fakeThreadGroup{} }
func (t *fakeTask) ReadBytesFallible(addr uint64, buf []byte) (int, error) { return 0, nil }
func (t *fakeTask) SetRegs(r *taskmodel.Registers) error                  { t.regs = *r; return nil }
func (t *fakeTask) IP() uint64                                            { return t.regs.IP }

type fakeAddressSpace struct{}

func (fakeAddressSpace) ReadBytesFallible(addr uint64, buf []byte) (int, error) { return 0, nil }
func (fakeAddressSpace) WriteBytes(addr uint64, data []byte) error              { return nil }
func (fakeAddressSpace) IsPatchStubs(addr uint64, length int) bool             { return false }

// fakeReplayer advances task's registers in lockstep with its own event
// counter, and Restore writes task's registers back to a cloned snapshot, so
// that GdbServer's round-trip property (spec.md §8) is observable through
// the session's task the way a real checkpoint restore would be.
type fakeReplayer struct {
	task    *fakeTask
	pos     int
	canCkpt bool
}

func newFakeReplayer(task *fakeTask) *fakeReplayer {
	return &fakeReplayer{task: task, canCkpt: true}
}

func (f *fakeReplayer) StepForward(cmd timeline.StepCommand, stopAtEvent session.FrameTime, bps *timeline.BreakpointSet, eval timeline.ExpressionEvaluator) (timeline.BreakStatus, bool, error) {
	f.pos++
	f.task.regs.IP = uint64(f.pos)
	bs := timeline.BreakStatus{Task: f.task.Tuid()}
	if bps != nil && bps.HasBreakpoint(uint64(f.pos)) {
		bs.BreakpointHit = true
	}
	return bs, false, nil
}

func (f *fakeReplayer) Clone() (timeline.Replayer, error) {
	snapshot := *f.task
	return &fakeReplayer{task: &snapshot, pos: f.pos, canCkpt: f.canCkpt}, nil
}

func (f *fakeReplayer) Restore(from timeline.Replayer) error {
	src := from.(*fakeReplayer)
	f.pos = src.pos
	f.task.regs = src.task.regs
	return nil
}

func (f *fakeReplayer) CurrentFrameTime() session.FrameTime { return session.FrameTime(f.pos) }
func (f *fakeReplayer) CurrentTick() int64                  { return int64(f.pos) }
func (f *fakeReplayer) CurrentTuid() taskmodel.TaskUid      { return f.task.Tuid() }
func (f *fakeReplayer) CurrentRegs() taskmodel.Registers    { return f.task.regs }
func (f *fakeReplayer) CanCheckpoint() bool                 { return f.canCkpt }

// fakeSession is the minimal session.Session wrapping a single fakeTask,
// tracking frame time through the live fakeReplayer it was built over.
type fakeSession struct {
	task  *fakeTask
	live  *fakeReplayer
}

func (s *fakeSession) Kind() session.Kind { return session.KindReplay }
func (s *fakeSession) CurrentTask() (taskmodel.Task, bool) { return s.task, true }
func (s *fakeSession) CurrentFrameTime() session.FrameTime { return s.live.CurrentFrameTime() }
func (s *fakeSession) Tasks() map[taskmodel.TaskUid]taskmodel.Task {
	return map[taskmodel.TaskUid]taskmodel.Task{s.task.Tuid(): s.task}
}
func (s *fakeSession) DidInitialExec() bool { return true }
func (s *fakeSession) MidInstruction() bool { return false }

func newFixture() (*Server, *fakeReplayer, *fakeTask) {
	task := &fakeTask{uid: taskmodel.TaskUid{Pid: 1, Serial: 1}}
	live := newFakeReplayer(task)
	sess := &fakeSession{task: task, live: live}
	tl := timeline.NewReplayTimeline(live)
	srv := New(sess, tl, Target{})
	srv.SetCommandHandler(NewDefaultCommandHandler(srv))
	srv.SetFinalEvent(100)
	return srv, live, task
}

// TestRestartFromCheckpointRoundTrips is spec.md §8's Scenario 1: issuing
// "checkpoint" over qRDCmd creates id 1; continuing to a breakpoint then
// restarting to that checkpoint must reproduce the exact register state
// captured when the checkpoint was made, and the pending interrupt must be
// consumed by exactly the next continue.
func TestRestartFromCheckpointRoundTrips(t *testing.T) {
	srv, live, task := newFixture()

	if _, _, err := live.StepForward(timeline.CmdSinglestep, 100, nil, nil); err != nil {
		t.Fatalf("advancing to event 1: %v", err)
	}
	wantRegs := task.regs

	reply, err := srv.Dispatch(GdbRequest{Kind: ReqRDCmd, RDCmd: "checkpoint"}, 0)
	if err != nil {
		t.Fatalf("checkpoint command: %v", err)
	}
	if diff := cmp.Diff("Checkpoint 1 at gdb-checkpoint-at-event-1", reply.RDCmdResult); diff != "" {
		t.Fatalf("unexpected checkpoint reply (-want +got):\n%s", diff)
	}

	srv.Timeline.Breakpoints().SetBreakpoint(2)
	contReply, err := srv.Dispatch(GdbRequest{Kind: ReqContinue, Direction: RunForward}, 0)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if contReply.Stop == nil || contReply.Stop.Signo != 5 {
		t.Fatalf("expected a breakpoint stop, got %+v", contReply.Stop)
	}

	restartReply, err := srv.Dispatch(GdbRequest{Kind: ReqRestart, Restart: RestartParam{Kind: RestartFromCheckpoint, CheckpointID: 1}}, 0)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !restartReply.OK {
		t.Fatalf("restart to checkpoint 1 failed: %+v", restartReply)
	}

	if diff := cmp.Diff(wantRegs, task.regs); diff != "" {
		t.Fatalf("restart did not reproduce the checkpointed register state (-want +got):\n%s", diff)
	}

	// interrupt_pending was set by the restart; the very next continue must
	// report a stop immediately, without advancing the replay.
	posBefore := live.pos
	immediateStop, err := srv.Dispatch(GdbRequest{Kind: ReqContinue, Direction: RunForward}, 0)
	if err != nil {
		t.Fatalf("post-restart continue: %v", err)
	}
	if immediateStop.Stop == nil {
		t.Fatalf("expected an immediate stop consuming the pending interrupt")
	}
	if live.pos != posBefore {
		t.Fatalf("post-restart continue advanced the replay instead of consuming the pending interrupt")
	}
}

// TestRestartBadCheckpointID is spec.md §8's Scenario 2: restarting to an
// unknown checkpoint id reports notify_restart_failed and leaves the
// timeline unchanged.
func TestRestartBadCheckpointID(t *testing.T) {
	srv, live, _ := newFixture()

	if _, err := srv.Dispatch(GdbRequest{Kind: ReqRDCmd, RDCmd: "checkpoint"}, 0); err != nil {
		t.Fatalf("checkpoint command: %v", err)
	}

	posBefore := live.pos
	reply, err := srv.Dispatch(GdbRequest{Kind: ReqRestart, Restart: RestartParam{Kind: RestartFromCheckpoint, CheckpointID: 42}}, 0)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !reply.RestartFailed {
		t.Fatalf("expected RestartFailed for an unknown checkpoint id, got %+v", reply)
	}
	if live.pos != posBefore {
		t.Fatalf("bad restart id changed the timeline: pos %d -> %d", posBefore, live.pos)
	}
}
