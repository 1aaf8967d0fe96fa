package syscallstate

// ArgMode classifies how a MemoryParam's buffer is used by the syscall,
// per spec.md §4.3.
type ArgMode int

const (
	ArgIn ArgMode = iota
	ArgOut
	ArgInOut
	// ArgInOutNoScratch is ArgInOut for a buffer that must never move: its
	// pointer is left aimed at the tracee's own memory even when scratch is
	// enabled for the rest of the syscall, and its output is still recorded
	// for replay directly from Dest.
	ArgInOutNoScratch
)

// PointerLocation records where the pointer to a parameter's buffer lives,
// so it can be rewritten to point at scratch and later restored.
type PointerLocation struct {
	InRegister    bool
	RegisterIndex int
	InMemory      bool
	MemoryAddr    uint64
}

// Mutator transforms a parameter's bytes (only legal in ArgIn mode, per
// spec.md §4.3's invariant), returning the bytes to write in their place:
// into scratch when scratch is enabled, over Dest when it is disabled. In
// the disabled case DonePreparing keeps the original bytes in savedData.
type Mutator func(original []byte) (mutated []byte)

// MemoryParam is spec.md §4.3's per-buffer descriptor.
type MemoryParam struct {
	Dest    uint64
	Scratch uint64
	Size    ParamSize
	Pointer PointerLocation
	Mode    ArgMode
	Mutate  Mutator

	// savedData holds a mutated parameter's original bytes when scratch is
	// disabled (ScratchExhausted demotion), restored by process_syscall_results'
	// "scratch disabled" branch.
	savedData []byte
}
