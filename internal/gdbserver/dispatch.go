package gdbserver

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Calinou/rd/internal/rdlog"
	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
	"github.com/Calinou/rd/internal/timeline"
)

// resolveInferiorPath resolves path against the traced process's view of
// the filesystem via /proc/<pid>/root, the standard Linux mechanism for
// reaching into another process's mount namespace. Per spec.md §1, a full
// in-trace filesystem snapshot is an external collaborator; this fallback
// covers the common case of a still-live namespace during live debugging.
func resolveInferiorPath(nsPid int32, path string) (*os.File, error) {
	root := filepath.Join("/proc", strconv.Itoa(int(nsPid)), "root")
	return os.Open(filepath.Join(root, path))
}

// CPUFeaturesFn reports the CPU features advertised to the client, per
// spec.md §6's cpuid(1).ecx check. Injected so tests can fake an AVX-less
// or AVX-capable host without touching the real CPU.
type CPUFeaturesFn func() CPUFeatures

// Dispatch maps one GdbRequest to its contract, per spec.md §4.2. It is the
// generalization of the teacher's dispatchIdeRequest switch (engine/base.go
// /engine/replay.go): same shape (one big kind-keyed dispatch returning a
// reply value), new domain (GDB remote protocol instead of DBGP).
func (s *Server) Dispatch(req GdbRequest, features CPUFeatures) (Reply, error) {
	switch req.Kind {
	case ReqGetReg:
		return s.dispatchGetReg(req)
	case ReqGetRegs:
		return s.dispatchGetRegs(features)
	case ReqSetReg:
		return s.dispatchSetReg(req)
	case ReqGetMem:
		return s.dispatchGetMem(req)
	case ReqSetMem:
		return s.dispatchSetMem(req)
	case ReqContinue:
		return s.dispatchContinue(req)
	case ReqSetSWBreak:
		s.Timeline.Breakpoints().SetBreakpoint(req.Mem.Addr)
		return Reply{OK: true}, nil
	case ReqRemoveSWBreak:
		s.Timeline.Breakpoints().ClearBreakpoint(req.Mem.Addr)
		return Reply{OK: true}, nil
	case ReqSetHWBreak, ReqSetWRWatch, ReqSetRDWatch, ReqSetRDWRWatch:
		wt, _ := watchTypeFor(req.Kind)
		s.Timeline.Breakpoints().SetWatchpoint(req.Watch.Addr, req.Watch.Length, wt, req.Watch.Conditions)
		return Reply{OK: true}, nil
	case ReqRemoveHWBreak, ReqRemoveWRWatch, ReqRemoveRDWatch, ReqRemoveRDWRWatch:
		wt, _ := watchTypeFor(req.Kind)
		s.Timeline.Breakpoints().ClearWatchpoint(req.Watch.Addr, req.Watch.Length, wt)
		return Reply{OK: true}, nil
	case ReqRestart:
		return s.dispatchRestart(req)
	case ReqVFileSetFS:
		s.files.SetFS(req.VFile.Pid)
		return Reply{OK: true}, nil
	case ReqVFileOpen:
		return s.dispatchVFileOpen(req)
	case ReqVFilePread:
		data, err := s.files.Pread(req.VFile.FD, req.VFile.Count, req.VFile.Offset)
		if err != nil {
			return Reply{Err: err.Error()}, nil
		}
		return Reply{Mem: &MemReply{Data: data}}, nil
	case ReqVFileClose:
		if err := s.files.Close(req.VFile.FD); err != nil {
			return Reply{Err: err.Error()}, nil
		}
		return Reply{OK: true}, nil
	case ReqRDCmd:
		return s.dispatchRDCmd(req)
	case ReqInterrupt:
		s.interruptPending = true
		return Reply{OK: true}, nil
	case ReqDetach:
		s.Deactivate()
		return Reply{OK: true}, nil
	case ReqQSupported:
		return s.dispatchQSupported(req, features)
	default:
		return Reply{}, fmt.Errorf("%w: kind=%d", ErrUnknownGdbRequest, req.Kind)
	}
}

func (s *Server) currentRegs() (*taskmodel.Registers, error) {
	task, ok := s.sess.CurrentTask()
	if !ok {
		return nil, fmt.Errorf("no current task")
	}
	return task.Regs(), nil
}

func (s *Server) dispatchGetReg(req GdbRequest) (Reply, error) {
	regs, err := s.currentRegs()
	if err != nil {
		return Reply{}, err
	}
	value, defined := GetReg(regs, req.Reg.RegNo)
	if !defined {
		return Reply{Regs: &RegsReply{Defined: false}}, nil
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return Reply{Regs: &RegsReply{Defined: true, Value: buf}}, nil
}

func (s *Server) dispatchGetRegs(features CPUFeatures) (Reply, error) {
	regs, err := s.currentRegs()
	if err != nil {
		return Reply{}, err
	}
	boundary := RegsBoundary(features)
	buf := make([]byte, 0, (boundary+1)*8)
	for i := 0; i <= boundary; i++ {
		v, defined := GetReg(regs, i)
		if !defined {
			v = 0
		}
		le := make([]byte, 8)
		binary.LittleEndian.PutUint64(le, v)
		buf = append(buf, le...)
	}
	return Reply{Regs: &RegsReply{Defined: true, Value: buf}}, nil
}

func (s *Server) dispatchSetReg(req GdbRequest) (Reply, error) {
	task, ok := s.sess.CurrentTask()
	if !ok {
		return Reply{}, fmt.Errorf("no current task")
	}
	regs := *task.Regs()
	if len(req.Reg.Value) < 8 {
		return Reply{Err: "register value too short"}, nil
	}
	v := binary.LittleEndian.Uint64(req.Reg.Value)
	switch req.Reg.RegNo {
	case DregRax:
		regs.AX = v
	case DregRbx:
		regs.BX = v
	case DregRcx:
		regs.CX = v
	case DregRdx:
		regs.DX = v
	case DregRsi:
		regs.SI = v
	case DregRdi:
		regs.DI = v
	case DregRbp:
		regs.BP = v
	case DregRsp:
		regs.SP = v
	case DregRip:
		regs.IP = v
	case DregEflags:
		regs.Flags = v
	default:
		return Reply{Err: "unsupported register number"}, nil
	}
	if err := task.SetRegs(&regs); err != nil {
		return Reply{}, err
	}
	return Reply{OK: true}, nil
}

// isSPSpanningPatchStubsSlot reports whether a memory read covers a
// stack-pointer-sized slot that lies within the patch-stubs region and
// includes sp, per spec.md §4.2 scenario 3.
func isSPSpanningPatchStubsSlot(task taskmodel.Task, addr uint64, length int) (lo, hi int, match bool) {
	sp := task.Regs().SP
	if sp < addr || sp+8 > addr+uint64(length) {
		return 0, 0, false
	}
	if !task.VM().IsPatchStubs(addr, length) {
		return 0, 0, false
	}
	return int(sp - addr), int(sp-addr) + 8, true
}

func (s *Server) dispatchGetMem(req GdbRequest) (Reply, error) {
	task, ok := s.sess.CurrentTask()
	if !ok {
		return Reply{}, fmt.Errorf("no current task")
	}
	buf := make([]byte, req.Mem.Length)
	n, err := task.ReadBytesFallible(req.Mem.Addr, buf)
	if err != nil && n == 0 {
		rdlog.Warn("rd: memory read at %#x failed, replying with zero-fill: %v", req.Mem.Addr, err)
	}
	// UnreadableTraceeMemory (spec.md §7): reply with whatever was
	// readable, zeros for the unreadable tail.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	if lo, hi, match := isSPSpanningPatchStubsSlot(task, req.Mem.Addr, req.Mem.Length); match {
		for i := lo; i < hi; i++ {
			buf[i] = 0
		}
	}
	return Reply{Mem: &MemReply{Data: buf}}, nil
}

func (s *Server) dispatchSetMem(req GdbRequest) (Reply, error) {
	task, ok := s.sess.CurrentTask()
	if !ok {
		return Reply{}, fmt.Errorf("no current task")
	}
	if err := task.VM().WriteBytes(req.Mem.Addr, req.Mem.Data); err != nil {
		return Reply{Err: err.Error()}, nil
	}
	return Reply{OK: true}, nil
}

func (s *Server) dispatchVFileOpen(req GdbRequest) (Reply, error) {
	fd, err := s.files.Open(resolveInferiorPath, req.VFile.Path, req.VFile.Flags)
	if err != nil {
		return Reply{Err: err.Error()}, nil
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(fd))
	return Reply{Mem: &MemReply{Data: buf}}, nil
}

func (s *Server) dispatchRDCmd(req GdbRequest) (Reply, error) {
	if s.cmdHandler == nil {
		return Reply{RDCmdResult: ""}, nil
	}
	result := s.cmdHandler.Handle(req.RDCmd)
	if result == "RDCmd_EndDiversion" {
		s.endDiversion()
	}
	return Reply{RDCmdResult: result}, nil
}

// dispatchContinue implements DREQ_CONT, per spec.md §4.2: drive the
// timeline forward or backward depending on RunDirection, then run
// maybe_notify_stop on the result.
func (s *Server) dispatchContinue(req GdbRequest) (Reply, error) {
	var result timeline.ReplayResult
	var err error
	wasInterrupted := s.interruptPending
	s.interruptPending = false

	if wasInterrupted {
		task, _ := s.sess.CurrentTask()
		var tuid taskmodel.TaskUid
		if task != nil {
			tuid = task.Tuid()
		}
		return s.replyForStop(req.Direction, timeline.BreakStatus{Task: tuid}, false), nil
	}

	if req.Direction == RunBackward {
		if !s.reverseExecutionEnabled {
			return Reply{Err: "reverse execution is disabled"}, nil
		}
		result, err = s.Timeline.ReverseStep(timeline.CmdContinue, s.sess.CurrentFrameTime(), s.eval)
	} else {
		result, err = s.Timeline.ReplayStepForward(timeline.CmdContinue, s.finalEvent, s.eval)
	}
	if err != nil {
		return Reply{}, err
	}
	return s.replyForStop(req.Direction, result.Break, result.Status == timeline.ReplayExited), nil
}

// replyForStop is maybe_notify_stop (spec.md §4.2): decide what signal, if
// any, to report for a stop, including the synthetic SIGKILL/silent-stop
// cases for last-thread exit under reverse execution.
func (s *Server) replyForStop(dir RunDirection, bs timeline.BreakStatus, exited bool) Reply {
	const sigkill = 9

	switch {
	case len(bs.Watches) > 0:
		s.updateTuids(bs.Task)
		return Reply{Stop: &StopNotify{Task: bs.Task, Signo: 5, Addr: bs.Watches[0].Addr}}
	case bs.BreakpointHit || bs.SinglestepComplete:
		s.updateTuids(bs.Task)
		return Reply{Stop: &StopNotify{Task: bs.Task, Signo: 5}}
	case bs.Signal != nil:
		s.updateTuids(bs.Task)
		return Reply{Stop: &StopNotify{Task: bs.Task, Signo: bs.Signal.Signo}}
	case exited || bs.TaskExit:
		if dir == RunForward {
			s.updateTuids(bs.Task)
			return Reply{Stop: &StopNotify{Task: bs.Task, Signo: sigkill}}
		}
		s.updateTuids(bs.Task)
		return Reply{Stop: &StopNotify{Task: bs.Task, Signo: 0, Silent: true}}
	default:
		s.updateTuids(bs.Task)
		return Reply{Stop: &StopNotify{Task: bs.Task, Signo: 0, Silent: true}}
	}
}

func (s *Server) updateTuids(tuid taskmodel.TaskUid) {
	if _, ok := s.sess.Tasks()[tuid]; !ok {
		return
	}
	s.lastContinueTuid = taskmodel.SomeTaskUid(tuid)
	s.lastQueryTuid = taskmodel.SomeTaskUid(tuid)
}

// dispatchRestart implements DREQ_RESTART's three sub-kinds (spec.md
// §4.2). In all cases, interrupt_pending is set so the next continue
// reports a stop immediately.
func (s *Server) dispatchRestart(req GdbRequest) (Reply, error) {
	defer func() { s.interruptPending = true }()

	switch req.Restart.Kind {
	case RestartFromCheckpoint:
		cp, ok := s.checkpoints.get(req.Restart.CheckpointID)
		if !ok {
			rdlog.Warn("rd: %s", s.checkpoints.describeValidIDs())
			return Reply{RestartFailed: true}, nil
		}
		if err := s.Timeline.SeekToMark(cp.Mark); err != nil {
			return Reply{}, err
		}
		return Reply{OK: true}, nil

	case RestartFromPrevious:
		if !s.hasDebuggerRestartCheckpoint {
			return Reply{RestartFailed: true}, nil
		}
		if err := s.Timeline.SeekToMark(s.debuggerRestartCheckpoint); err != nil {
			return Reply{}, err
		}
		return Reply{OK: true}, nil

	case RestartFromEvent:
		n := req.Restart.Event
		if session.FrameTime(n) > s.finalEvent-1 {
			n = int64(s.finalEvent) - 1
		}
		if err := s.Timeline.SeekToBeforeEvent(session.FrameTime(n)); err != nil {
			return Reply{}, err
		}
		for !s.AtTarget() {
			result, err := s.Timeline.ReplayStepForward(timeline.CmdContinue, s.finalEvent, s.eval)
			if err != nil {
				return Reply{}, err
			}
			if result.Status == timeline.ReplayExited {
				break
			}
		}
		return Reply{OK: true}, nil

	default:
		return Reply{}, fmt.Errorf("gdbserver: unknown restart kind %d", req.Restart.Kind)
	}
}

// dispatchQSupported answers the client's qSupported query with the static
// capability table plus whatever the negotiated CPU features add, and
// logs a warning when the client reports a GDB version too old to
// negotiate target-async (spec.md §6). It records nothing about the
// client's version.
func (s *Server) dispatchQSupported(req GdbRequest, features CPUFeatures) (Reply, error) {
	if req.GdbVersion != "" && !SupportsTargetAsync(req.GdbVersion) {
		rdlog.Warn("rd: gdb client %q predates 7.11.1, target-async stays disabled", req.GdbVersion)
	}
	return Reply{RDCmdResult: BuildQSupportedResponse(features)}, nil
}

// SetFinalEvent records the trace's final event, used by RestartFromEvent's
// clamp and forward continues' stop_at_event.
func (s *Server) SetFinalEvent(final session.FrameTime) { s.finalEvent = final }
