// Package seccomp implements SeccompFilterRewriter: it patches an
// inferior's installed seccomp-BPF program so every non-ALLOW verdict
// becomes SECCOMP_RET_TRACE carrying an opaque 16-bit index, preserving a
// bijection back to the original 32-bit verdict. Grounded in the
// cgo+linux/filter.h BPF construction shown by the pack's
// moby-moby/libcontainer and containerd/runc examples, reimplemented with
// the pure-Go ecosystem equivalent golang.org/x/net/bpf (a classic-BPF
// assembler/decoder) plus golang.org/x/sys/unix for the raw
// SECCOMP_*/PR_SET_* constants and the sock_filter/sock_fprog wire types.
package seccomp

import (
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// BaseCustomData is spec.md §4.4's BASE_CUSTOM_DATA: indices start here to
// keep them disjoint from PTRACE_EVENT_EXIT values.
const BaseCustomData = 0x100

// ErrUnsupportedFilterForm is spec.md §7's UnsupportedFilterForm: a RET
// instruction used a non-constant verdict. Rewrite returns this error and
// produces no program; it does not panic.
type ErrUnsupportedFilterForm struct {
	InstructionIndex int
}

func (e ErrUnsupportedFilterForm) Error() string {
	return fmt.Sprintf("seccomp: RET instruction %d does not use BPF_K (a constant verdict)", e.InstructionIndex)
}

// Rewriter maintains the bijection between opaque indices and the original
// 32-bit verdicts they stand in for, per spec.md §4.4.
type Rewriter struct {
	indexToResult []uint32
	resultToIndex map[uint32]uint16
}

// NewRewriter constructs an empty bijection starting at BaseCustomData.
func NewRewriter() *Rewriter {
	return &Rewriter{resultToIndex: make(map[uint32]uint16)}
}

// indexFor returns the opaque index for verdict, allocating a new one if
// this is the first time verdict has been seen.
func (r *Rewriter) indexFor(verdict uint32) uint16 {
	if idx, ok := r.resultToIndex[verdict]; ok {
		return idx
	}
	idx := uint16(BaseCustomData + len(r.indexToResult))
	r.indexToResult = append(r.indexToResult, verdict)
	r.resultToIndex[verdict] = idx
	return idx
}

// MapFilterDataToRealResult is map_filter_data_to_real_result: recovers
// the original verdict for an index produced by Rewrite.
func (r *Rewriter) MapFilterDataToRealResult(index uint16) (uint32, bool) {
	offset := int(index) - BaseCustomData
	if offset < 0 || offset >= len(r.indexToResult) {
		return 0, false
	}
	return r.indexToResult[offset], true
}

// rdPageAllowRule is one unconditionally-allowed callsite IP in the tool's
// own trampoline page, per spec.md §4.4: "pre-pend rules that
// unconditionally allow syscalls issued from the tool's own trampoline
// page".
type rdPageAllowRule struct {
	CallsiteIP uint64
}

// Rewrite decodes program (the user's installed sock_filter array),
// rewrites every RET to either pass through ALLOW verdicts unchanged or
// replace non-ALLOW verdicts with SECCOMP_RET_TRACE|index, and prepends
// unconditional-allow rules for the rd-page callsites. It returns a single
// program, the rd-page allow prelude followed by the rewritten user
// program, ready for InstallPatchedSeccompFilter to install.
func (r *Rewriter) Rewrite(program []unix.SockFilter, rdPageCallsites []uint64) ([]unix.SockFilter, error) {
	insns, err := decodeSockFilter(program)
	if err != nil {
		return nil, fmt.Errorf("decoding seccomp-bpf program: %w", err)
	}

	for i, insn := range insns {
		ret, ok := insn.(bpf.RetConstant)
		if !ok {
			if _, isRet := insn.(bpf.RetA); isRet {
				return nil, ErrUnsupportedFilterForm{InstructionIndex: i}
			}
			continue
		}
		verdict := uint32(ret.Val)
		if verdict&unix.SECCOMP_RET_ACTION_FULL == unix.SECCOMP_RET_ALLOW {
			continue
		}
		idx := r.indexFor(verdict)
		insns[i] = bpf.RetConstant{Val: uint32(unix.SECCOMP_RET_TRACE) | uint32(idx)}
	}

	prelude := allowRulesForCallsites(rdPageCallsites)
	full := append(prelude, insns...)

	encoded, err := bpf.Assemble(full)
	if err != nil {
		return nil, fmt.Errorf("reassembling patched seccomp-bpf program: %w", err)
	}
	return encodeSockFilter(encoded), nil
}

// allowRulesForCallsites builds the BPF prelude: for each rd-page callsite
// IP, load the low 32 bits of seccomp_data's instruction_pointer field,
// compare them with the callsite's low 32 bits, and jump to an
// unconditional ALLOW on a match. The high 32 bits of the instruction
// pointer are not compared.
func allowRulesForCallsites(callsites []uint64) []bpf.Instruction {
	var out []bpf.Instruction
	for _, ip := range callsites {
		out = append(out,
			bpf.LoadAbsolute{Off: seccompDataIPOffset, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(ip), SkipTrue: 0, SkipFalse: 1},
			bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
		)
	}
	return out
}

// seccompDataIPOffset is the byte offset within struct seccomp_data where
// the kernel places the syscall instruction pointer.
const seccompDataIPOffset = 8

func decodeSockFilter(program []unix.SockFilter) ([]bpf.Instruction, error) {
	raw := make([]bpf.RawInstruction, len(program))
	for i, f := range program {
		raw[i] = bpf.RawInstruction{Op: f.Code, Jt: f.Jt, Jf: f.Jf, K: f.K}
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("could not fully disassemble seccomp-bpf program (%d of %d instructions decoded)", len(insns), len(raw))
	}
	return insns, nil
}

func encodeSockFilter(raw []bpf.RawInstruction) []unix.SockFilter {
	out := make([]unix.SockFilter, len(raw))
	for i, r := range raw {
		out[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}
	return out
}
