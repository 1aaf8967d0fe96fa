package fastforward

import (
	"testing"

	"github.com/Calinou/rd/internal/taskmodel"
	"github.com/Calinou/rd/internal/timeline"
)

type fakeTask struct {
	regs taskmodel.Registers
}

func (t *fakeTask) Tuid() taskmodel.TaskUid                           { return taskmodel.TaskUid{Pid: 1} }
func (t *fakeTask) Tgid() int32                                       { return 1 }
func (t *fakeTask) RecTid() int32                                     { return 1 }
func (t *fakeTask) Regs() *taskmodel.Registers                        { return &t.regs }
func (t *fakeTask) ExtraRegs() *taskmodel.ExtraRegisters               { return nil }
func (t *fakeTask) Arch() taskmodel.Arch                               { return taskmodel.ArchX64 }
func (t *fakeTask) VM() taskmodel.AddressSpace                         { return nil }
func (t *fakeTask) ThreadGroup() taskmodel.ThreadGroup                 { return nil }
func (t *fakeTask) ReadBytesFallible(addr uint64, buf []byte) (int, error) { return 0, nil }
func (t *fakeTask) SetRegs(r *taskmodel.Registers) error               { t.regs = *r; return nil }
func (t *fakeTask) IP() uint64                                         { return t.regs.IP }

type repClassifier struct{ repIP uint64 }

func (c repClassifier) IsRepStringInstructionAt(task taskmodel.Task, ip uint64) bool {
	return ip == c.repIP
}

// fakeStepper leaves IP unchanged for iterationsLeft calls, then jumps it
// to afterLoopIP, simulating a REP loop's kernel-driven iteration count
// completing.
type fakeStepper struct {
	iterationsLeft int
	afterLoopIP    uint64
}

func (s *fakeStepper) SingleStep(task taskmodel.Task) (*taskmodel.Registers, error) {
	regs := task.Regs()
	if s.iterationsLeft > 0 {
		s.iterationsLeft--
		return regs, nil
	}
	regs.IP = s.afterLoopIP
	return regs, nil
}

func TestRunCoalescesRepLoop(t *testing.T) {
	task := &fakeTask{regs: taskmodel.Registers{IP: 0x1000}}
	classifier := repClassifier{repIP: 0x1000}
	stepper := &fakeStepper{iterationsLeft: 50, afterLoopIP: 0x1003}
	bps := timeline.NewBreakpointSet()

	status, err := Run(task, stepper, classifier, bps, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !status.DidFastForward {
		t.Fatalf("Run over a 50-iteration REP loop did not report DidFastForward")
	}
	if status.IncompleteFastForward {
		t.Fatalf("Run reported IncompleteFastForward for an uninterrupted loop")
	}
	if task.IP() != 0x1003 {
		t.Fatalf("task IP = %#x after fast-forward, want 0x1003", task.IP())
	}
}

func TestRunStopsAtBreakpointMidLoop(t *testing.T) {
	task := &fakeTask{regs: taskmodel.Registers{IP: 0x1000}}
	classifier := repClassifier{repIP: 0x1000}
	stepper := &fakeStepper{iterationsLeft: 50, afterLoopIP: 0x1003}
	bps := timeline.NewBreakpointSet()
	bps.SetBreakpoint(0x1000)

	status, err := Run(task, stepper, classifier, bps, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !status.IncompleteFastForward {
		t.Fatalf("Run did not stop early despite a breakpoint on the loop instruction")
	}
}

func TestRunSkipsNonRepInstruction(t *testing.T) {
	task := &fakeTask{regs: taskmodel.Registers{IP: 0x2000}}
	classifier := repClassifier{repIP: 0x1000}
	stepper := &fakeStepper{iterationsLeft: 0, afterLoopIP: 0x2001}
	bps := timeline.NewBreakpointSet()

	status, err := Run(task, stepper, classifier, bps, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status.DidFastForward {
		t.Fatalf("Run reported DidFastForward for a non-REP instruction")
	}
}
