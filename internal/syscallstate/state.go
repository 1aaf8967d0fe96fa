package syscallstate

import (
	"errors"
	"fmt"

	"github.com/Calinou/rd/internal/rdlog"
	"github.com/Calinou/rd/internal/taskmodel"
)

// Switchable selects whether the kernel may context-switch away while this
// syscall blocks, per spec.md §4.3's done_preparing(switchable).
type Switchable int

const (
	AllowSwitch Switchable = iota
	PreventSwitch
)

// ErrScratchExhausted is spec.md §7's ScratchExhausted: demotes the
// syscall to non-switchable and logs a deadlock-risk warning; it is not
// returned as a hard error, only logged, matching the teacher's
// warn-and-continue style for recoverable conditions.
var ErrScratchExhausted = errors.New("syscallstate: scratch allocation exceeds usable scratch")

// Recorder is the trace-writing collaborator (out of scope per spec.md
// §1) that TaskSyscallState hands finished output regions to.
type Recorder interface {
	RecordLocal(addr uint64, data []byte)
	RecordRemote(addr uint64, data []byte)
}

// TaskSyscallState is spec.md §4.3's per-syscall scratch-buffer protocol
// state, scoped to one syscall's enter-to-exit lifetime.
type TaskSyscallState struct {
	task taskmodel.Task
	rec  Recorder

	scratchBase  uint64
	scratchLimit uint64
	scratch      uint64 // advances monotonically during preparation, per spec.md §3's invariant

	params []*MemoryParam

	preparationDone bool
	scratchEnabled  bool

	shouldEmulateResult bool
	emulatedResult      int64

	afterSyscallActions []func()
}

// New begins tracking one syscall's scratch protocol for task, whose
// scratch-buffer mapping spans [scratchBase, scratchLimit).
func New(task taskmodel.Task, rec Recorder, scratchBase, scratchLimit uint64) *TaskSyscallState {
	return &TaskSyscallState{
		task:         task,
		rec:          rec,
		scratchBase:  scratchBase,
		scratchLimit: scratchLimit,
		scratch:      scratchBase,
	}
}

// align8 rounds n up to an 8-byte boundary, per spec.md §4.3's "8-byte
// aligned" scratch allocation.
func align8(n int) int {
	return (n + 7) &^ 7
}

// RegParameter registers a buffer whose pointer lives in a register, the
// Enter-phase primitive spec.md §4.3 names reg_parameter{,_with_size}.
// Parameters registered after preparation is done are silently ignored
// (the syscall is resuming after desched), per spec.md §4.3's invariant.
func (s *TaskSyscallState) RegParameter(regIndex int, size ParamSize, mode ArgMode) *MemoryParam {
	if s.preparationDone {
		return nil
	}
	regs := s.task.Regs()
	dest, _ := GetRegisterArg(regs, regIndex)
	p := &MemoryParam{
		Dest:    dest,
		Size:    size,
		Mode:    mode,
		Pointer: PointerLocation{InRegister: true, RegisterIndex: regIndex},
	}
	s.allocateScratch(p)
	s.params = append(s.params, p)
	return p
}

// MemPtrParameter registers a buffer whose pointer lives in tracee memory
// at ptrAddr, the Enter-phase primitive spec.md §4.3 names
// mem_ptr_parameter{,_with_size}.
func (s *TaskSyscallState) MemPtrParameter(ptrAddr uint64, size ParamSize, mode ArgMode) *MemoryParam {
	if s.preparationDone {
		return nil
	}
	buf := make([]byte, 8)
	s.task.ReadBytesFallible(ptrAddr, buf)
	var dest uint64
	for i := 7; i >= 0; i-- {
		dest = dest<<8 | uint64(buf[i])
	}
	p := &MemoryParam{
		Dest:    dest,
		Size:    size,
		Mode:    mode,
		Pointer: PointerLocation{InMemory: true, MemoryAddr: ptrAddr},
	}
	s.allocateScratch(p)
	s.params = append(s.params, p)
	return p
}

func (s *TaskSyscallState) allocateScratch(p *MemoryParam) {
	incoming := align8(p.Size.IncomingSize)
	p.Scratch = s.scratch
	s.scratch += uint64(incoming)
}

// usedScratch reports how much scratch this syscall has allocated so far.
func (s *TaskSyscallState) usedScratch() uint64 {
	return s.scratch - s.scratchBase
}

// relocatePointerToScratch finds the single parameter whose original
// buffer (starting at Dest) contains addr and returns addr's offset rewritten into that parameter's
// scratch space. Per spec.md §4.3's invariant, failing to find exactly one
// containing parameter is a bug.
func (s *TaskSyscallState) relocatePointerToScratch(addr uint64) (uint64, error) {
	var found *MemoryParam
	for _, p := range s.params {
		if addr >= p.Dest && addr < p.Dest+uint64(align8(p.Size.IncomingSize)) {
			if found != nil {
				rdlog.PanicWith("relocate_pointer_to_scratch: addr %#x matched more than one parameter", addr)
			}
			found = p
		}
	}
	if found == nil {
		return 0, fmt.Errorf("relocate_pointer_to_scratch: addr %#x matched no parameter", addr)
	}
	return found.Scratch + (addr - found.Dest), nil
}

// DonePreparing is spec.md §4.3's done_preparing(switchable). If switchable
// is AllowSwitch and the allocated scratch exceeds the task's usable
// scratch, it downgrades to PreventSwitch and logs a warning (deadlock
// risk) instead of returning scratchEnabled. Otherwise it enables scratch:
// copies In/InOut contents in, rewrites pointers, fixes up
// pointer-in-memory parameters via relocatePointerToScratch, then runs
// mutators.
func (s *TaskSyscallState) DonePreparing(switchable Switchable) (Switchable, error) {
	if s.usedScratch() > s.scratchLimit-s.scratchBase {
		if switchable == AllowSwitch {
			rdlog.Warn("rd: %v for task %v; demoting syscall to PreventSwitch (deadlock risk)", ErrScratchExhausted, s.task.Tuid())
			switchable = PreventSwitch
		}
	} else {
		s.scratchEnabled = true
	}

	s.preparationDone = true

	if !s.scratchEnabled {
		for _, p := range s.params {
			if p.Mode == ArgIn || p.Mode == ArgInOut {
				orig := make([]byte, p.Size.IncomingSize)
				s.task.ReadBytesFallible(p.Dest, orig)
				if p.Mutate != nil {
					p.savedData = orig
					mutated := p.Mutate(orig)
					if err := s.task.VM().WriteBytes(p.Dest, mutated); err != nil {
						return switchable, fmt.Errorf("writing mutated bytes: %w", err)
					}
				}
			}
		}
		return switchable, nil
	}

	for _, p := range s.params {
		if p.Mode == ArgInOutNoScratch {
			// This parameter's buffer stays exactly where the tracee put
			// it: nothing is copied into scratch, and its pointer (below)
			// is never redirected, matching the "no scratch" the mode name
			// promises.
			continue
		}
		if p.Mode == ArgIn || p.Mode == ArgInOut {
			buf := make([]byte, p.Size.IncomingSize)
			s.task.ReadBytesFallible(p.Dest, buf)
			if err := s.task.VM().WriteBytes(p.Scratch, buf); err != nil {
				return switchable, fmt.Errorf("copying into scratch: %w", err)
			}
		}
		if p.Pointer.InRegister {
			regs := *s.task.Regs()
			setRegisterArg(&regs, p.Pointer.RegisterIndex, p.Scratch)
			if err := s.task.SetRegs(&regs); err != nil {
				return switchable, fmt.Errorf("redirecting register pointer to scratch: %w", err)
			}
		}
	}

	for _, p := range s.params {
		if p.Mode == ArgInOutNoScratch {
			continue
		}
		if p.Pointer.InMemory {
			relocated, err := s.relocatePointerToScratch(p.Pointer.MemoryAddr)
			if err != nil {
				return switchable, err
			}
			buf := make([]byte, 8)
			leUint64(buf, p.Scratch)
			if err := s.task.VM().WriteBytes(relocated, buf); err != nil {
				return switchable, fmt.Errorf("redirecting memory pointer to scratch: %w", err)
			}
		}
	}

	for _, p := range s.params {
		if p.Mode != ArgIn || p.Mutate == nil {
			continue
		}
		buf := make([]byte, p.Size.IncomingSize)
		s.task.ReadBytesFallible(p.Scratch, buf)
		mutated := p.Mutate(buf)
		if err := s.task.VM().WriteBytes(p.Scratch, mutated); err != nil {
			return switchable, fmt.Errorf("applying mutator: %w", err)
		}
	}

	return switchable, nil
}

// ProcessSyscallResults is spec.md §4.3's process_syscall_results.
func (s *TaskSyscallState) ProcessSyscallResults() error {
	if s.scratchEnabled {
		for _, p := range s.params {
			if p.Mode == ArgInOutNoScratch {
				// Never redirected to scratch, so the kernel already wrote
				// its output straight to the tracee's own buffer; just
				// record it for replay.
				n := p.Size.Eval(s.task, 0)
				buf := make([]byte, n)
				s.task.ReadBytesFallible(p.Dest, buf)
				s.rec.RecordLocal(p.Dest, buf)
				continue
			}
			if p.Mode == ArgOut || p.Mode == ArgInOut {
				n := p.Size.Eval(s.task, 0)
				buf := make([]byte, n)
				s.task.ReadBytesFallible(p.Scratch, buf)
				if err := s.task.VM().WriteBytes(p.Dest, buf); err != nil {
					return fmt.Errorf("copying scratch output back to dest: %w", err)
				}
				if p.Pointer.InMemory {
					s.rec.RecordRemote(p.Dest, buf)
				} else {
					s.rec.RecordLocal(p.Dest, buf)
				}
			}
		}
		if err := s.restorePointers(); err != nil {
			return err
		}
	} else {
		for _, p := range s.params {
			if p.savedData != nil {
				if err := s.task.VM().WriteBytes(p.Dest, p.savedData); err != nil {
					return fmt.Errorf("restoring saved bytes: %w", err)
				}
			}
			if p.Mode == ArgOut || p.Mode == ArgInOut {
				n := p.Size.Eval(s.task, 0)
				buf := make([]byte, n)
				s.task.ReadBytesFallible(p.Dest, buf)
				s.rec.RecordLocal(p.Dest, buf)
			}
		}
	}

	if s.shouldEmulateResult {
		regs := *s.task.Regs()
		regs.AX = uint64(s.emulatedResult)
		if err := s.task.SetRegs(&regs); err != nil {
			return fmt.Errorf("emulating syscall result: %w", err)
		}
	}

	for _, action := range s.afterSyscallActions {
		action()
	}
	return nil
}

// AbortSyscallResults is spec.md §4.3's abort_syscall_results: the inverse
// of DonePreparing's scratch-enabling step, used when the syscall is
// cancelled (e.g. by signal).
func (s *TaskSyscallState) AbortSyscallResults() error {
	if !s.scratchEnabled {
		return nil
	}
	return s.restorePointers()
}

func (s *TaskSyscallState) restorePointers() error {
	for _, p := range s.params {
		if p.Mode == ArgInOutNoScratch {
			continue
		}
		if p.Pointer.InRegister {
			regs := *s.task.Regs()
			setRegisterArg(&regs, p.Pointer.RegisterIndex, p.Dest)
			if err := s.task.SetRegs(&regs); err != nil {
				return fmt.Errorf("restoring register pointer: %w", err)
			}
		}
		if p.Pointer.InMemory {
			buf := make([]byte, 8)
			leUint64(buf, p.Dest)
			if err := s.task.VM().WriteBytes(p.Pointer.MemoryAddr, buf); err != nil {
				return fmt.Errorf("restoring memory pointer: %w", err)
			}
		}
	}
	return nil
}

// EmulateResult records that ProcessSyscallResults should overwrite the
// syscall's result register with result.
func (s *TaskSyscallState) EmulateResult(result int64) {
	s.shouldEmulateResult = true
	s.emulatedResult = result
}

// AfterSyscall registers an action to run at the end of
// ProcessSyscallResults.
func (s *TaskSyscallState) AfterSyscall(action func()) {
	s.afterSyscallActions = append(s.afterSyscallActions, action)
}

// GetRegisterArg reads the syscall-argument register at index, following
// the x86-64 syscall ABI's di/si/dx/r10/r8/r9 argument order.
func GetRegisterArg(regs *taskmodel.Registers, index int) (uint64, bool) {
	switch index {
	case 0:
		return regs.DI, true
	case 1:
		return regs.SI, true
	case 2:
		return regs.DX, true
	case 3:
		return regs.R10, true
	case 4:
		return regs.R8, true
	case 5:
		return regs.R9, true
	default:
		return 0, false
	}
}

func setRegisterArg(regs *taskmodel.Registers, index int, value uint64) {
	switch index {
	case 0:
		regs.DI = value
	case 1:
		regs.SI = value
	case 2:
		regs.DX = value
	case 3:
		regs.R10 = value
	case 4:
		regs.R8 = value
	case 5:
		regs.R9 = value
	}
}

func leUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
