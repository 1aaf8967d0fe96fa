package gdbserver

import "github.com/Calinou/rd/internal/taskmodel"

// CPUFeatures is the bitmask spec.md §6 describes, advertised to the client
// at connection time.
type CPUFeatures uint32

const (
	CPU64Bit CPUFeatures = 1 << iota
	CPUAVX
)

// x86-64 GDB register numbers this server recognizes, up through the
// general-purpose/orig_rax boundary spec.md §4.2 names explicitly
// (DREG_ORIG_EAX/DREG_ORIG_RAX) and the top of the YMM bank
// (DREG_64_YMM15H) that AVX negotiation extends into.
const (
	DregRax = iota
	DregRbx
	DregRcx
	DregRdx
	DregRsi
	DregRdi
	DregRbp
	DregRsp
	DregR8
	DregR9
	DregR10
	DregR11
	DregR12
	DregR13
	DregR14
	DregR15
	DregRip
	DregEflags
	DregOrigRax
	// DregOrigRaxBoundary marks the last register sent when AVX is not
	// advertised: GET_REGS replies up through here inclusive.
	DregOrigRaxBoundary = DregOrigRax
	Dreg64Ymm15H        = DregOrigRax + 16 // one slot per YMM register's high half
)

// GetReg answers DREQ_GET_REG: values are derived from the task's Registers
// via this helper, per spec.md §4.2. Unreadable/undefined registers reply
// with defined=false.
func GetReg(regs *taskmodel.Registers, regNo int) (value uint64, defined bool) {
	switch regNo {
	case DregRax:
		return regs.AX, true
	case DregRbx:
		return regs.BX, true
	case DregRcx:
		return regs.CX, true
	case DregRdx:
		return regs.DX, true
	case DregRsi:
		return regs.SI, true
	case DregRdi:
		return regs.DI, true
	case DregRbp:
		return regs.BP, true
	case DregRsp:
		return regs.SP, true
	case DregR8:
		return regs.R8, true
	case DregR9:
		return regs.R9, true
	case DregR10:
		return regs.R10, true
	case DregR11:
		return regs.R11, true
	case DregR12:
		return regs.R12, true
	case DregR13:
		return regs.R13, true
	case DregR14:
		return regs.R14, true
	case DregR15:
		return regs.R15, true
	case DregRip:
		return regs.IP, true
	case DregEflags:
		return regs.Flags, true
	case DregOrigRax:
		return regs.OrigAX, true
	default:
		return 0, false
	}
}

// RegsBoundary reports the last register number GET_REGS should include,
// per spec.md §4.2: through DREG_ORIG_EAX/DREG_ORIG_RAX by default,
// extended through the top YMM register if AVX is advertised.
func RegsBoundary(features CPUFeatures) int {
	if features&CPUAVX != 0 {
		return Dreg64Ymm15H
	}
	return DregOrigRaxBoundary
}
