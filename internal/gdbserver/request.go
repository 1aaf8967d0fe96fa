// Package gdbserver implements GdbServer: the front-end state machine that
// drives a timeline.ReplayTimeline in response to GDB remote-protocol
// requests. Grounded in the teacher's engineState/dispatchIdeRequest
// (engine/base.go, engine/replay.go): a long-lived session object, a
// request-dispatch table keyed by request kind, and a connection loop that
// reads one client request at a time and writes back a reply — generalized
// from DBGP-over-TCP-to-a-PHP-IDE to GDB-remote-protocol-over-TCP-to-gdb.
package gdbserver

import "github.com/Calinou/rd/internal/taskmodel"

// RequestKind is the tag of the GdbRequest union, per spec.md §3/§4.2.
type RequestKind int

const (
	ReqContinue RequestKind = iota
	ReqGetReg
	ReqGetRegs
	ReqSetReg
	ReqGetMem
	ReqSetMem
	ReqSetSWBreak
	ReqRemoveSWBreak
	ReqSetHWBreak
	ReqRemoveHWBreak
	ReqSetWRWatch
	ReqRemoveWRWatch
	ReqSetRDWatch
	ReqRemoveRDWatch
	ReqSetRDWRWatch
	ReqRemoveRDWRWatch
	ReqRestart
	ReqQSymbol
	ReqVFileSetFS
	ReqVFileOpen
	ReqVFilePread
	ReqVFileClose
	ReqReadSiginfo
	ReqRDCmd
	ReqInterrupt
	ReqDetach
	ReqQSupported
)

// RestartKind distinguishes DREQ_RESTART's three sub-kinds, per spec.md
// §4.2.
type RestartKind int

const (
	RestartFromCheckpoint RestartKind = iota
	RestartFromPrevious
	RestartFromEvent
)

// RestartParam carries the payload for whichever RestartKind is selected.
type RestartParam struct {
	Kind          RestartKind
	CheckpointID  int
	Event         int64
}

// MemParam carries a memory read/write request's address and length/data.
type MemParam struct {
	Addr   uint64
	Length int
	Data   []byte // populated for SetMem
}

// RegParam carries a register read/write request's register number and, for
// writes, the new value.
type RegParam struct {
	RegNo int
	Value []byte
}

// WatchParam carries a watchpoint registration/removal's address, length,
// and byte-encoded condition expressions (spec.md §4.2).
type WatchParam struct {
	Addr       uint64
	Length     int
	Conditions [][]byte
}

// VFileParam carries the vFile family's payload (spec.md §4.2).
type VFileParam struct {
	Pid   int32
	FD    int
	Path  string
	Flags int
	Mode  int
	Count int
	Offset int64
}

// GdbRequest is the tagged union spec.md §3 describes: one request kind,
// carrying only the payload that kind needs. Grounded in the teacher's
// dbgpCmd (engine/base.go), generalized from a DBGP command-string-plus-map
// shape to a typed Go union via a kind tag and per-kind optional fields —
// the wire decoder (out of scope, per spec.md §1) is responsible for
// populating exactly one of these per request.
type GdbRequest struct {
	Kind RequestKind

	Tuid taskmodel.TaskUid

	Direction RunDirection

	Reg     RegParam
	Mem     MemParam
	Watch   WatchParam
	Restart RestartParam
	VFile   VFileParam

	RDCmd string

	// GdbVersion carries the client-reported version string from a
	// qSupported request's "gdb/X.Y.Z" feature token.
	GdbVersion string
}

// RunDirection mirrors timeline.RunDirection so this package does not need
// to import timeline just for the enum; dispatchContinue branches on it
// directly to pick the timeline operation.
type RunDirection int

const (
	RunForward RunDirection = iota
	RunBackward
)
