package timeline

import (
	"errors"
	"fmt"

	"github.com/Calinou/rd/internal/rdlog"
	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
)

// ErrBelowBarrier is returned when a seek would cross below the reverse
// execution barrier event, per spec.md §4.1's failure semantics. Callers
// must treat it as "start of time".
var ErrBelowBarrier = errors.New("timeline: seek target is before the reverse execution barrier")

// ErrCannotCheckpointHere is spec.md §7's CannotCheckpointHere: the session
// is mid-instruction and cannot be cloned.
var ErrCannotCheckpointHere = errors.New("timeline: cannot add a checkpoint in the current mid-instruction state")

// Replayer is the external collaborator that actually advances a
// ReplaySession: reading the next trace frame, applying it via ptrace, and
// reporting what stopped it. Trace file I/O and the raw ptrace wrappers are
// deliberately out of scope (spec.md §1); ReplayTimeline only needs this
// narrow seam to drive them.
type Replayer interface {
	// StepForward executes one cmd-shaped step. It must stop no later than
	// stopAtEvent's trace frame and report via BreakStatus/exited what
	// caused the stop. bps is consulted for breakpoint/watchpoint hits.
	StepForward(cmd StepCommand, stopAtEvent session.FrameTime, bps *BreakpointSet, eval ExpressionEvaluator) (BreakStatus, bool, error)
	// Clone produces an independent copy of the current session state,
	// suitable for pinning as an explicit checkpoint.
	Clone() (Replayer, error)
	// Restore repositions this Replayer's live session to the exact state
	// recorded in a previously-cloned Replayer (used when seeking to a
	// checkpoint without re-running from scratch).
	Restore(from Replayer) error
	// CurrentFrameTime, CurrentTick, CurrentTuid, CurrentRegs describe where
	// the underlying session is right now, for mark interning.
	CurrentFrameTime() session.FrameTime
	CurrentTick() int64
	CurrentTuid() taskmodel.TaskUid
	CurrentRegs() taskmodel.Registers
	CanCheckpoint() bool
}

// checkpointEntry pairs a Checkpoint with the cloned Replayer that pins it
// (nil for non-explicit checkpoints, which pin nothing and may be dropped).
type checkpointEntry struct {
	cp       Checkpoint
	replayer Replayer
}

// ReplayTimeline is the navigable execution timeline of spec.md §4.1,
// built over one live Replayer. It hides "restart from nearest checkpoint
// and re-execute" behind operations that look like free bidirectional
// movement. Grounded in undoio-delve's undoSession for the
// checkpoint-table/mark-database shape, and in the teacher's
// continueExecution (engine/base.go) for the single "drive one step,
// inspect the stop, repeat" loop this generalizes.
type ReplayTimeline struct {
	live Replayer
	marks *markDB

	checkpoints   []checkpointEntry
	nextCheckpoint int

	barrierEvent session.FrameTime

	bps *BreakpointSet

	// noBreakpointsInterval caches the last mark known to have no armed
	// breakpoint/watchpoint between it and the mark current when it was
	// recorded, so ReplayStepForward can skip the per-step breakpoint scan
	// on the next call when nothing has changed (supplemented from
	// original_source/, see SPEC_FULL.md).
	noBreakpointsInterval struct {
		valid bool
		from  markKey
		to    markKey
	}
}

// NewReplayTimeline constructs a timeline over live, with no checkpoints
// and no reverse-execution barrier set.
func NewReplayTimeline(live Replayer) *ReplayTimeline {
	return &ReplayTimeline{
		live:           live,
		marks:          newMarkDB(),
		nextCheckpoint: 1,
		bps:            NewBreakpointSet(),
	}
}

// Breakpoints exposes the persistent breakpoint/watchpoint registry so
// GdbServer can register and clear them.
func (tl *ReplayTimeline) Breakpoints() *BreakpointSet { return tl.bps }

func (tl *ReplayTimeline) currentKey() markKey {
	return markKey{event: tl.live.CurrentFrameTime(), tick: tl.live.CurrentTick()}
}

// Mark interns and returns a mark for the current state, per spec.md
// §4.1. Interning cannot fail.
func (tl *ReplayTimeline) Mark() Mark {
	return tl.marks.intern(tl.currentKey(), tl.live.CurrentTuid(), tl.live.CurrentRegs())
}

// CanAddCheckpoint reports whether the current state can be cloned, per
// spec.md §4.1; false when the session is mid-instruction.
func (tl *ReplayTimeline) CanAddCheckpoint() bool {
	return tl.live.CanCheckpoint()
}

// AddExplicitCheckpoint interns the current mark and, if possible, pins it
// by cloning the live session. If CanAddCheckpoint is false, the mark is
// still returned (per spec.md §4.1's "the mark is returned but is not
// pinned") but no checkpoint entry is created, and the caller must fall
// back to treating it as a non-explicit mark.
func (tl *ReplayTimeline) AddExplicitCheckpoint(where string) (Mark, error) {
	m := tl.Mark()
	if !tl.CanAddCheckpoint() {
		return m, ErrCannotCheckpointHere
	}
	if err := ValidateCheckpointNote(where); err != nil {
		return m, err
	}
	clone, err := tl.live.Clone()
	if err != nil {
		return m, fmt.Errorf("cloning for checkpoint: %w", err)
	}
	cp := Checkpoint{
		Mark:          m,
		LastContinued: tl.live.CurrentTuid(),
		Where:         where,
		Explicit:      true,
	}
	tl.checkpoints = append(tl.checkpoints, checkpointEntry{cp: cp, replayer: clone})
	return m, nil
}

// RemoveExplicitCheckpoint releases the pin on m, if any explicit
// checkpoint references it. Per spec.md §8's round-trip property, doing
// this after AddExplicitCheckpoint restores the timeline's reachable set.
func (tl *ReplayTimeline) RemoveExplicitCheckpoint(m Mark) bool {
	for i, e := range tl.checkpoints {
		if e.cp.Explicit && e.cp.Mark.Equal(m) {
			tl.checkpoints = append(tl.checkpoints[:i], tl.checkpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Checkpoints returns every currently pinned checkpoint, in registration
// order. GdbServer lists valid ids on a bad-restart-param error from its
// own checkpoint table, not from this list.
func (tl *ReplayTimeline) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(tl.checkpoints))
	for i, e := range tl.checkpoints {
		out[i] = e.cp
	}
	return out
}

// SetReverseExecutionBarrierEvent prevents reverse execution from crossing
// below event, per spec.md §4.1; used to keep the timeline out of the
// pre-first_run_event bootstrap region.
func (tl *ReplayTimeline) SetReverseExecutionBarrierEvent(event session.FrameTime) {
	tl.barrierEvent = event
}

// bestCheckpointFor returns the checkpoint entry with the greatest mark
// that is still <= target, the first step of the reverse-step algorithm in
// spec.md §4.1.
func (tl *ReplayTimeline) bestCheckpointFor(target Mark) (*checkpointEntry, bool) {
	var best *checkpointEntry
	for i := range tl.checkpoints {
		e := &tl.checkpoints[i]
		if e.replayer == nil {
			continue
		}
		if e.cp.Mark.Equal(target) || e.cp.Mark.Less(target) {
			if best == nil || best.cp.Mark.Less(e.cp.Mark) {
				best = e
			}
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// SeekToMark repositions the timeline to mark by restoring the nearest
// ancestor checkpoint (explicit, since only explicit checkpoints pin a
// clone) and replaying forward to the exact mark. Idempotent: seeking to
// the mark already current is a no-op.
func (tl *ReplayTimeline) SeekToMark(m Mark) error {
	if tl.currentKey() == m.key {
		return nil
	}
	if m.key.event < tl.barrierEvent {
		return ErrBelowBarrier
	}
	entry, ok := tl.bestCheckpointFor(m)
	if !ok {
		return fmt.Errorf("timeline: no ancestor checkpoint covers mark %v", m)
	}
	if err := tl.live.Restore(entry.replayer); err != nil {
		return fmt.Errorf("restoring checkpoint for seek: %w", err)
	}
	for tl.currentKey().less(m.key) {
		_, exited, err := tl.live.StepForward(CmdSinglestep, m.key.event, tl.bps, nil)
		if err != nil {
			return fmt.Errorf("replaying forward to mark: %w", err)
		}
		if exited {
			return fmt.Errorf("timeline: replay exited before reaching mark %v", m)
		}
	}
	return nil
}

// SeekToBeforeEvent repositions just before event, per spec.md §4.1.
func (tl *ReplayTimeline) SeekToBeforeEvent(event session.FrameTime) error {
	if event <= tl.barrierEvent {
		return ErrBelowBarrier
	}
	target := Mark{key: markKey{event: event - 1, tick: 1<<62 - 1, phase: 1<<30 - 1}}
	entry, ok := tl.bestCheckpointFor(target)
	if !ok {
		return fmt.Errorf("timeline: no ancestor checkpoint precedes event %d", event)
	}
	if err := tl.live.Restore(entry.replayer); err != nil {
		return fmt.Errorf("restoring checkpoint for seek: %w", err)
	}
	for tl.live.CurrentFrameTime() < event {
		_, exited, err := tl.live.StepForward(CmdSinglestep, event, tl.bps, nil)
		if err != nil {
			return fmt.Errorf("replaying forward to event: %w", err)
		}
		if exited {
			break
		}
	}
	return nil
}

// markWithBreakpointsCleared reports whether from falls inside the cached
// interval [from, to) known to contain no breakpoint or watchpoint stop, so the caller
// can skip straight to stepping without consulting bps. The cache is only
// trustworthy while bps is still empty; any armed breakpoint invalidates it.
func (tl *ReplayTimeline) markWithBreakpointsCleared(from markKey) bool {
	if !tl.bps.Empty() {
		tl.noBreakpointsInterval.valid = false
		return false
	}
	return tl.noBreakpointsInterval.valid && !from.less(tl.noBreakpointsInterval.from) &&
		from.less(tl.noBreakpointsInterval.to)
}

// ReplayStepForward executes one step forward, per spec.md §4.1.
func (tl *ReplayTimeline) ReplayStepForward(cmd StepCommand, stopAtEvent session.FrameTime, eval ExpressionEvaluator) (ReplayResult, error) {
	from := tl.currentKey()

	// When the cache says no breakpoint/watchpoint stop lies between here
	// and a mark we've already stepped through once, skip handing bps to
	// the replayer at all: it's already known empty in this branch, so the
	// scan can only agree.
	bps := tl.bps
	if tl.markWithBreakpointsCleared(from) {
		bps = nil
	}

	bs, exited, err := tl.live.StepForward(cmd, stopAtEvent, bps, eval)
	if err != nil {
		return ReplayResult{}, err
	}

	if tl.bps.Empty() && !bs.AnyStop() {
		tl.noBreakpointsInterval.valid = true
		tl.noBreakpointsInterval.from = from
		tl.noBreakpointsInterval.to = tl.currentKey()
	} else {
		tl.noBreakpointsInterval.valid = false
	}

	if exited {
		return ReplayResult{Status: ReplayExited, Break: bs}, nil
	}
	return ReplayResult{Status: ReplayContinue, Break: bs}, nil
}

// ReverseStep implements spec.md §4.1's reverse-step algorithm: find the
// greatest checkpoint at or before prev_of(current), seek to it, replay
// forward recording candidate stops, and land on the last candidate seen
// strictly before the original state.
func (tl *ReplayTimeline) ReverseStep(cmd StepCommand, stopBeforeEvent session.FrameTime, eval ExpressionEvaluator) (ReplayResult, error) {
	start := tl.Mark()
	if start.key.event <= tl.barrierEvent {
		return ReplayResult{}, ErrBelowBarrier
	}

	prev, ok := tl.marks.predecessor(start)
	if !ok {
		prev = Mark{key: markKey{event: tl.barrierEvent}}
	}

	entry, ok := tl.bestCheckpointFor(prev)
	if !ok {
		return ReplayResult{}, fmt.Errorf("timeline: no ancestor checkpoint covers reverse-step from %v", start)
	}
	if err := tl.live.Restore(entry.replayer); err != nil {
		return ReplayResult{}, fmt.Errorf("restoring checkpoint for reverse step: %w", err)
	}

	var lastCandidate ReplayResult
	var candidateMark Mark
	haveCandidate := false
	for {
		if tl.currentKey() == start.key {
			break
		}
		bs, exited, err := tl.live.StepForward(cmd, stopBeforeEvent, tl.bps, eval)
		if err != nil {
			return ReplayResult{}, err
		}
		if exited {
			rdlog.Warn("rd: reverse-step run-forward pass hit end of trace before reaching start mark")
			break
		}
		if tl.currentKey() == start.key {
			break
		}
		lastCandidate = ReplayResult{Status: ReplayContinue, Break: bs}
		candidateMark = tl.Mark()
		haveCandidate = true
	}
	if !haveCandidate {
		return ReplayResult{}, fmt.Errorf("timeline: reverse step found no candidate stop before %v", start)
	}
	// The forward pass ran on until it reached the start mark, so the live
	// session has to be moved back to the last candidate it recorded.
	if err := tl.SeekToMark(candidateMark); err != nil {
		return ReplayResult{}, err
	}
	return lastCandidate, nil
}
