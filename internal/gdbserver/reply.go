package gdbserver

import "github.com/Calinou/rd/internal/taskmodel"

// Reply is the tagged union of typed reply values GdbServer produces, per
// spec.md §6 ("produces typed replies: reply_get_regs, reply_get_mem,
// notify_stop, notify_restart_failed, etc."). The wire encoder that turns
// these into GDB remote protocol packets is an external collaborator.
type Reply struct {
	Regs          *RegsReply
	Mem           *MemReply
	Stop          *StopNotify
	RestartFailed bool
	RDCmdResult   string
	OK            bool
	Err           string
}

// RegsReply answers DREQ_GET_REG/DREQ_GET_REGS. Defined mirrors the "replies
// with defined=false" contract for unreadable/undefined registers (spec.md
// §4.2).
type RegsReply struct {
	Defined bool
	Value   []byte
}

// MemReply answers DREQ_GET_MEM: the bytes actually readable, followed by
// zero-fill for any unreadable tail, per spec.md §7's UnreadableTraceeMemory
// degrade-gracefully contract.
type MemReply struct {
	Data []byte
}

// StopNotify is notify_stop's payload (spec.md §4.2/§6).
type StopNotify struct {
	Task   taskmodel.TaskUid
	Signo  int32
	Addr   uint64
	Silent bool // true for the "signal 0" silent-stop cases
}
