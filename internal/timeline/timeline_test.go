package timeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
)

func assertNoError(err error, t *testing.T, context string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", context, err)
	}
}

// fakeReplayer is a minimal in-memory stand-in for the real ptrace/trace
// driven Replayer, advancing through a fixed sequence of frame times so the
// timeline's seek/reverse-step logic can be exercised without a live
// tracee.
type fakeReplayer struct {
	frames  []session.FrameTime
	pos     int
	tuid    taskmodel.TaskUid
	canCkpt bool
}

func newFakeReplayer(n int) *fakeReplayer {
	frames := make([]session.FrameTime, n)
	for i := range frames {
		frames[i] = session.FrameTime(i)
	}
	return &fakeReplayer{frames: frames, tuid: taskmodel.TaskUid{Pid: 1, Serial: 1}, canCkpt: true}
}

func (f *fakeReplayer) StepForward(cmd StepCommand, stopAtEvent session.FrameTime, bps *BreakpointSet, eval ExpressionEvaluator) (BreakStatus, bool, error) {
	if f.pos >= len(f.frames)-1 {
		return BreakStatus{TaskExit: true}, true, nil
	}
	f.pos++
	bs := BreakStatus{Task: f.tuid}
	if bps != nil && bps.HasBreakpoint(uint64(f.frames[f.pos])) {
		bs.BreakpointHit = true
	}
	return bs, false, nil
}

func (f *fakeReplayer) Clone() (Replayer, error) {
	clone := *f
	return &clone, nil
}

func (f *fakeReplayer) Restore(from Replayer) error {
	src := from.(*fakeReplayer)
	f.pos = src.pos
	return nil
}

func (f *fakeReplayer) CurrentFrameTime() session.FrameTime { return f.frames[f.pos] }
func (f *fakeReplayer) CurrentTick() int64                  { return int64(f.pos) }
func (f *fakeReplayer) CurrentTuid() taskmodel.TaskUid       { return f.tuid }
func (f *fakeReplayer) CurrentRegs() taskmodel.Registers     { return taskmodel.Registers{IP: uint64(f.pos)} }
func (f *fakeReplayer) CanCheckpoint() bool                  { return f.canCkpt }

func TestMarkIsStable(t *testing.T) {
	live := newFakeReplayer(10)
	tl := NewReplayTimeline(live)
	m1 := tl.Mark()
	m2 := tl.Mark()
	if !m1.Equal(m2) {
		t.Fatalf("Mark() at the same state produced unequal marks: %v != %v", m1, m2)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	live := newFakeReplayer(10)
	tl := NewReplayTimeline(live)

	startMark := tl.Mark()
	cpMark, err := tl.AddExplicitCheckpoint("before-loop")
	assertNoError(err, t, "AddExplicitCheckpoint")
	if !cpMark.Equal(startMark) {
		t.Fatalf("checkpoint mark %v != start mark %v", cpMark, startMark)
	}

	for i := 0; i < 5; i++ {
		if _, err := tl.ReplayStepForward(CmdSinglestep, 9, nil); err != nil {
			t.Fatalf("ReplayStepForward: %v", err)
		}
	}
	if tl.Mark().Equal(startMark) {
		t.Fatalf("timeline did not advance after stepping forward")
	}

	assertNoError(tl.SeekToMark(cpMark), t, "SeekToMark")
	if !tl.Mark().Equal(cpMark) {
		t.Fatalf("seek_to_mark then mark() = %v, want %v", tl.Mark(), cpMark)
	}

	if !tl.RemoveExplicitCheckpoint(cpMark) {
		t.Fatalf("RemoveExplicitCheckpoint reported no matching checkpoint")
	}
	if len(tl.Checkpoints()) != 0 {
		t.Fatalf("checkpoints remain after RemoveExplicitCheckpoint: %v", tl.Checkpoints())
	}
}

func TestSeekToMarkIsIdempotent(t *testing.T) {
	live := newFakeReplayer(10)
	tl := NewReplayTimeline(live)
	if _, err := tl.AddExplicitCheckpoint("start"); err != nil {
		t.Fatalf("AddExplicitCheckpoint: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tl.ReplayStepForward(CmdSinglestep, 9, nil); err != nil {
			t.Fatalf("ReplayStepForward: %v", err)
		}
	}
	m := tl.Mark()
	assertNoError(tl.SeekToMark(m), t, "first SeekToMark")
	assertNoError(tl.SeekToMark(m), t, "second SeekToMark (idempotence)")
	if !tl.Mark().Equal(m) {
		t.Fatalf("mark drifted across idempotent seeks")
	}
}

func TestSeekBelowBarrierFails(t *testing.T) {
	live := newFakeReplayer(10)
	tl := NewReplayTimeline(live)
	tl.SetReverseExecutionBarrierEvent(3)
	if _, err := tl.AddExplicitCheckpoint("origin"); err != nil {
		t.Fatalf("AddExplicitCheckpoint: %v", err)
	}
	err := tl.SeekToBeforeEvent(2)
	if err != ErrBelowBarrier {
		t.Fatalf("SeekToBeforeEvent below barrier = %v, want ErrBelowBarrier", err)
	}
}

func TestReverseStepReturnsToEarlierState(t *testing.T) {
	live := newFakeReplayer(10)
	tl := NewReplayTimeline(live)
	origin, err := tl.AddExplicitCheckpoint("origin")
	assertNoError(err, t, "AddExplicitCheckpoint")

	for i := 0; i < 4; i++ {
		if _, err := tl.ReplayStepForward(CmdSinglestep, 9, nil); err != nil {
			t.Fatalf("ReplayStepForward: %v", err)
		}
	}
	current := tl.Mark()

	result, err := tl.ReverseStep(CmdSinglestep, 9, nil)
	assertNoError(err, t, "ReverseStep")
	if result.Break.Task != live.CurrentTuid() {
		t.Fatalf("reverse step reported stop on unexpected task %v", result.Break.Task)
	}
	if !tl.Mark().Less(current) {
		t.Fatalf("reverse step did not move to an earlier event: now=%v, was=%v", tl.Mark(), current)
	}
	if tl.Mark().Less(origin) {
		t.Fatalf("reverse step moved before the pinned origin checkpoint: %v < %v", tl.Mark(), origin)
	}
}

func TestReplayStepForwardReportsExpectedBreakStatus(t *testing.T) {
	live := newFakeReplayer(10)
	tl := NewReplayTimeline(live)
	tl.Breakpoints().SetBreakpoint(3)

	var result ReplayResult
	for i := 0; i < 3; i++ {
		var err error
		result, err = tl.ReplayStepForward(CmdSinglestep, 9, nil)
		assertNoError(err, t, "ReplayStepForward")
	}

	want := BreakStatus{Task: live.CurrentTuid(), BreakpointHit: true}
	if diff := cmp.Diff(want, result.Break); diff != "" {
		t.Fatalf("BreakStatus mismatch (-want +got):\n%s", diff)
	}
}
