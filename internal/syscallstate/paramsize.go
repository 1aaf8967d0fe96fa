// Package syscallstate implements TaskSyscallState: the record-time
// scratch-buffer protocol that redirects a blocking syscall's buffer
// arguments through per-task scratch memory, so the recorded result is
// independent of scheduling interleaving. Grounded in the teacher's
// breakpoint/parameter bookkeeping style (engine/breakpoints.go's
// engineBreakPoint table of registered-then-resolved entries), generalized
// from "breakpoints keyed by gdb id" to "memory parameters keyed by
// registration order within one syscall".
package syscallstate

import "github.com/Calinou/rd/internal/taskmodel"

const maxIncomingSize = int(^uint32(0) >> 1) // INT_MAX, per spec.md §4.3

// SizeSource describes where a ParamSize's dynamic component, if any,
// comes from.
type SizeSource int

const (
	SizeFixed SizeSource = iota
	SizeFromMemoryCell
	SizeFromSyscallResult
)

// ParamSize is spec.md §4.3's size descriptor: a size may be a fixed
// incoming size, a value read from a tracee memory cell, derived from the
// syscall's result, or a capped combination of these.
type ParamSize struct {
	IncomingSize int

	Source    SizeSource
	CellAddr  uint64 // valid when Source == SizeFromMemoryCell
	CellWidth int     // 4 or 8 bytes

	// group links parameters that share the same dynamic source so they
	// consume it in registration order, per spec.md §4.3.
	group *sizeGroup
}

// sizeGroup tracks how much of a shared dynamic size source has already
// been consumed by earlier-registered parameters.
type sizeGroup struct {
	consumed int
}

// NewFixedSize returns a ParamSize with no dynamic component, capped at
// INT_MAX on construction per spec.md §4.3.
func NewFixedSize(incoming int) ParamSize {
	return ParamSize{IncomingSize: cap32(incoming), Source: SizeFixed}
}

// NewMemoryCellSize returns a ParamSize whose dynamic component is read
// from a tracee memory cell (pre-initialized or kernel-filled at exit).
func NewMemoryCellSize(incoming int, cellAddr uint64, cellWidth int) ParamSize {
	return ParamSize{IncomingSize: cap32(incoming), Source: SizeFromMemoryCell, CellAddr: cellAddr, CellWidth: cellWidth}
}

// NewSyscallResultSize returns a ParamSize derived from the syscall's
// integer result register.
func NewSyscallResultSize(incoming int) ParamSize {
	return ParamSize{IncomingSize: cap32(incoming), Source: SizeFromSyscallResult}
}

func cap32(n int) int {
	if n > maxIncomingSize {
		return maxIncomingSize
	}
	if n < 0 {
		return 0
	}
	return n
}

// ShareGroupWith links p with other so both consume the same dynamic size
// source in registration order, per spec.md §4.3's "parameters sharing the
// same dynamic source consume it in registration order".
func (p *ParamSize) ShareGroupWith(other *ParamSize) {
	if p.group == nil {
		p.group = &sizeGroup{}
	}
	other.group = p.group
}

// Eval computes min(incoming, memory-sourced-cell, syscall-result) minus
// alreadyConsumed, floored at 0, per spec.md §4.3's ParamSize::eval.
func (p *ParamSize) Eval(task taskmodel.Task, alreadyConsumed int) int {
	size := p.IncomingSize

	switch p.Source {
	case SizeFromMemoryCell:
		buf := make([]byte, p.CellWidth)
		n, err := task.ReadBytesFallible(p.CellAddr, buf)
		if err == nil && n == p.CellWidth {
			var cellVal int
			for i := n - 1; i >= 0; i-- {
				cellVal = cellVal<<8 | int(buf[i])
			}
			if cellVal < size {
				size = cellVal
			}
		}
	case SizeFromSyscallResult:
		result := int(task.Regs().SyscallResult())
		if result >= 0 && result < size {
			size = result
		}
	}

	consumed := alreadyConsumed
	if p.group != nil {
		consumed += p.group.consumed
	}
	remaining := size - consumed
	if remaining < 0 {
		remaining = 0
	}
	if p.group != nil {
		p.group.consumed += remaining
	}
	return remaining
}
