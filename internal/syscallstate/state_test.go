package syscallstate

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Calinou/rd/internal/taskmodel"
)

// fakeAddressSpace is a minimal in-memory stand-in for a tracee's address
// space, letting DonePreparing/ProcessSyscallResults be exercised without a
// live ptraced process.
type fakeAddressSpace struct {
	mem map[uint64][]byte
}

func newFakeAddressSpace() *fakeAddressSpace {
	return &fakeAddressSpace{mem: map[uint64][]byte{}}
}

func (a *fakeAddressSpace) ReadBytesFallible(addr uint64, buf []byte) (int, error) {
	src := a.mem[addr]
	n := copy(buf, src)
	return n, nil
}

func (a *fakeAddressSpace) WriteBytes(addr uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	a.mem[addr] = cp
	return nil
}

func (a *fakeAddressSpace) IsPatchStubs(addr uint64, length int) bool { return false }

type fakeThreadGroup struct{}

func (fakeThreadGroup) Tguid() taskmodel.ThreadGroupUid { return taskmodel.ThreadGroupUid{Pid: 1} }
func (fakeThreadGroup) DidExec() bool                   { return true }

// fakeTask is a minimal taskmodel.Task backed by fakeAddressSpace, enough to
// drive TaskSyscallState's scratch protocol in tests.
type fakeTask struct {
	vm   *fakeAddressSpace
	regs taskmodel.Registers
}

func newFakeTask() *fakeTask {
	return &fakeTask{vm: newFakeAddressSpace()}
}

func (t *fakeTask) Tuid() taskmodel.TaskUid          { return taskmodel.TaskUid{Pid: 1, Serial: 1} }
func (t *fakeTask) Tgid() int32                      { return 1 }
func (t *fakeTask) RecTid() int32                    { return 1 }
func (t *fakeTask) Regs() *taskmodel.Registers       { return &t.regs }
func (t *fakeTask) ExtraRegs() *taskmodel.ExtraRegisters { return &taskmodel.ExtraRegisters{} }
func (t *fakeTask) Arch() taskmodel.Arch             { return taskmodel.ArchX64 }
func (t *fakeTask) VM() taskmodel.AddressSpace       { return t.vm }
func (t *fakeTask) ThreadGroup() taskmodel.ThreadGroup { return fakeThreadGroup{} }
func (t *fakeTask) ReadBytesFallible(addr uint64, buf []byte) (int, error) {
	return t.vm.ReadBytesFallible(addr, buf)
}
func (t *fakeTask) SetRegs(r *taskmodel.Registers) error { t.regs = *r; return nil }
func (t *fakeTask) IP() uint64                           { return t.regs.IP }

type fakeRecorder struct {
	local  map[uint64][]byte
	remote map[uint64][]byte
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{local: map[uint64][]byte{}, remote: map[uint64][]byte{}}
}

func (r *fakeRecorder) RecordLocal(addr uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.local[addr] = cp
}

func (r *fakeRecorder) RecordRemote(addr uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.remote[addr] = cp
}

// TestRegParameterRedirectsPointerToScratch exercises the reg_parameter path
// of DonePreparing: the destination register should end up pointing at
// scratch, not the tracee's original buffer.
func TestRegParameterRedirectsPointerToScratch(t *testing.T) {
	task := newFakeTask()
	task.regs.DI = 0x1000
	task.vm.mem[0x1000] = []byte("hello-in")

	rec := newFakeRecorder()
	s := New(task, rec, 0x5000, 0x6000)
	p := s.RegParameter(0, NewFixedSize(8), ArgIn)
	if p == nil {
		t.Fatalf("RegParameter returned nil")
	}

	if _, err := s.DonePreparing(AllowSwitch); err != nil {
		t.Fatalf("DonePreparing: %v", err)
	}

	got := task.regs.DI
	want := p.Scratch
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("register was not redirected to scratch (-want +got):\n%s", diff)
	}
	if got == 0x1000 {
		t.Fatalf("register still points at the original buffer")
	}
}

// TestProcessSyscallResultsCopiesScratchOutputBack exercises the ArgOut path
// of ProcessSyscallResults: kernel-written scratch output must land back at
// the original destination and be handed to the recorder.
func TestProcessSyscallResultsCopiesScratchOutputBack(t *testing.T) {
	task := newFakeTask()
	task.regs.DI = 0x2000

	rec := newFakeRecorder()
	s := New(task, rec, 0x5000, 0x6000)
	p := s.RegParameter(0, NewFixedSize(4), ArgOut)

	if _, err := s.DonePreparing(AllowSwitch); err != nil {
		t.Fatalf("DonePreparing: %v", err)
	}

	written := []byte{1, 2, 3, 4}
	if err := task.vm.WriteBytes(p.Scratch, written); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	if err := s.ProcessSyscallResults(); err != nil {
		t.Fatalf("ProcessSyscallResults: %v", err)
	}

	gotDest := task.vm.mem[p.Dest]
	if diff := cmp.Diff(written, gotDest); diff != "" {
		t.Fatalf("scratch output not copied back to dest (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(written, rec.local[p.Dest]); diff != "" {
		t.Fatalf("recorder did not see the output bytes (-want +got):\n%s", diff)
	}
}

// TestArgInOutNoScratchLeavesPointerAlone exercises the one mode exempt from
// scratch redirection: the destination register must still point at the
// tracee's own buffer after DonePreparing, and ProcessSyscallResults must
// still record whatever the kernel wrote there directly.
func TestArgInOutNoScratchLeavesPointerAlone(t *testing.T) {
	task := newFakeTask()
	task.regs.DI = 0x1000
	task.vm.mem[0x1000] = []byte("hello-in")

	rec := newFakeRecorder()
	s := New(task, rec, 0x5000, 0x6000)
	p := s.RegParameter(0, NewFixedSize(8), ArgInOutNoScratch)
	if p == nil {
		t.Fatalf("RegParameter returned nil")
	}

	if _, err := s.DonePreparing(AllowSwitch); err != nil {
		t.Fatalf("DonePreparing: %v", err)
	}

	if diff := cmp.Diff(uint64(0x1000), task.regs.DI); diff != "" {
		t.Fatalf("pointer was redirected despite ArgInOutNoScratch (-want +got):\n%s", diff)
	}
	if _, ok := task.vm.mem[p.Scratch]; ok {
		t.Fatalf("scratch was populated despite ArgInOutNoScratch")
	}

	kernelWrote := []byte("bye-out!")
	if err := task.vm.WriteBytes(0x1000, kernelWrote); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	if err := s.ProcessSyscallResults(); err != nil {
		t.Fatalf("ProcessSyscallResults: %v", err)
	}

	if diff := cmp.Diff(uint64(0x1000), task.regs.DI); diff != "" {
		t.Fatalf("pointer was restored to something other than the original buffer (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(kernelWrote, rec.local[0x1000]); diff != "" {
		t.Fatalf("recorder did not see the in-place output bytes (-want +got):\n%s", diff)
	}
}
