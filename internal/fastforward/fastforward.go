// Package fastforward implements FastForward: coalescing the iterations of
// a single x86 REP-prefixed string instruction into one observable step,
// so replay doesn't pay for a single-step trap per iteration. Grounded in
// the teacher's continueExecution (engine/base.go), which already treats
// "drive the inner engine until something observable happens" as one
// operation; FastForward specializes that loop to the one case where many
// single-steps are known in advance to be uninteresting.
package fastforward

import (
	"github.com/Calinou/rd/internal/taskmodel"
	"github.com/Calinou/rd/internal/timeline"
)

// TargetState is one caller-supplied register state FastForward must stop
// at if a subsequent single step would reach it, per spec.md §4.5.
type TargetState struct {
	IP uint64
	// Match reports whether regs matches this target state beyond IP
	// (e.g. specific flag or counter-register values); nil matches on IP
	// alone.
	Match func(regs *taskmodel.Registers) bool
}

func (t TargetState) matches(regs *taskmodel.Registers) bool {
	if regs.IP != t.IP {
		return false
	}
	if t.Match == nil {
		return true
	}
	return t.Match(regs)
}

// Status is FastForwardStatus, per spec.md §4.5.
type Status struct {
	DidFastForward        bool
	IncompleteFastForward bool
}

// Stepper is the narrow single-step primitive FastForward coalesces over:
// one raw ptrace singlestep, reporting the task's registers afterward. The
// real ptrace wrapper is out of scope per spec.md §1.
type Stepper interface {
	SingleStep(task taskmodel.Task) (*taskmodel.Registers, error)
}

// InstructionClassifier reports, via IsRepStringInstructionAt, whether the instruction at ip is
// one of the x86 REP-prefixed string opcodes (movs/stos/cmps/scas/lods)
// FastForward is allowed to coalesce. Instruction decoding is the
// architecture-binding collaborator (out of scope per spec.md §1); this
// seam lets a real decoder be substituted.
type InstructionClassifier interface {
	IsRepStringInstructionAt(task taskmodel.Task, ip uint64) bool
}

// Run performs one or more synchronous single-steps, coalescing the
// iterations of a single REP-prefixed string instruction into one
// observable step, per spec.md §4.5. It adds at most one tick to the
// task's tick count and stops early when: a breakpoint, or a watchpoint
// covering the new IP, trips; IP has advanced past the string instruction;
// or a subsequent single step would land on one of targets. Watchpoints on
// the memory the string instruction reads or writes are not checked.
func Run(task taskmodel.Task, stepper Stepper, classifier InstructionClassifier, bps *timeline.BreakpointSet, eval timeline.ExpressionEvaluator, targets []TargetState) (Status, error) {
	startIP := task.IP()
	if !classifier.IsRepStringInstructionAt(task, startIP) {
		regs, err := stepper.SingleStep(task)
		if err != nil {
			return Status{}, err
		}
		return Status{DidFastForward: false, IncompleteFastForward: stoppedEarly(bps, regs)}, nil
	}

	didFastForward := false
	for {
		regs, err := stepper.SingleStep(task)
		if err != nil {
			return Status{DidFastForward: didFastForward}, err
		}

		if bps != nil && bps.HasBreakpoint(regs.IP) {
			return Status{DidFastForward: didFastForward, IncompleteFastForward: true}, nil
		}
		if hitsAnyWatch(bps, regs) {
			return Status{DidFastForward: didFastForward, IncompleteFastForward: true}, nil
		}
		for _, target := range targets {
			if target.matches(regs) {
				return Status{DidFastForward: didFastForward, IncompleteFastForward: true}, nil
			}
		}

		if regs.IP != startIP {
			// IP has advanced past the string instruction: the loop
			// finished (or the instruction was interrupted by e.g. a
			// pending signal), either way this step is now complete.
			return Status{DidFastForward: didFastForward}, nil
		}

		didFastForward = true
	}
}

func hitsAnyWatch(bps *timeline.BreakpointSet, regs *taskmodel.Registers) bool {
	if bps == nil {
		return false
	}
	return len(bps.HitWatches(regs.IP, 1, timeline.WatchExec, 0, nil)) > 0
}

func stoppedEarly(bps *timeline.BreakpointSet, regs *taskmodel.Registers) bool {
	if bps == nil {
		return false
	}
	return bps.HasBreakpoint(regs.IP)
}
