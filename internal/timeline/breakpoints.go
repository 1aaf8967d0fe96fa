package timeline

// StepCommand selects what replay_step_forward/reverse_step actually does
// for one step, per spec.md §4.1.
type StepCommand int

const (
	CmdContinue StepCommand = iota
	CmdSinglestep
	CmdSyscall
)

// RunDirection distinguishes a GDB continue/step request's direction, per
// spec.md §4.2's DREQ_CONT contract.
type RunDirection int

const (
	RunForward RunDirection = iota
	RunBackward
)

// ExpressionEvaluator evaluates one byte-encoded watchpoint condition
// against a stopped task. The real bytecode interpreter is an external
// collaborator (GDB-protocol wire-format parsing is out of scope per
// spec.md §1); the timeline only needs the nonzero/failed/zero trichotomy
// spec.md §4.2 describes.
type ExpressionEvaluator interface {
	Eval(taskPid int32, bytecode []byte) (result int64, ok bool)
}

// watchKey identifies one registered watchpoint by address range and type;
// set_watchpoint/clear_watchpoint are keyed this way per spec.md §4.1.
type watchKey struct {
	addr   uint64
	length int
	typ    WatchType
}

type watchpoint struct {
	key        watchKey
	conditions [][]byte
}

// fires reports whether every condition is nonzero-or-failed, per spec.md
// §4.2: "fires iff all expressions evaluate to a nonzero result or fail to
// evaluate".
func (w watchpoint) fires(taskPid int32, eval ExpressionEvaluator) bool {
	for _, cond := range w.conditions {
		if eval == nil {
			continue
		}
		result, ok := eval.Eval(taskPid, cond)
		if ok && result == 0 {
			return false
		}
	}
	return true
}

// BreakpointSet is the persistent-across-steps registry of instruction
// breakpoints and memory watchpoints spec.md §4.1 describes: it survives
// individual steps and is only fully cleared by RemoveAll (the
// remove_breakpoints_and_watchpoints operation).
type BreakpointSet struct {
	breakpoints map[uint64]struct{}
	watchpoints map[watchKey]*watchpoint
}

func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{
		breakpoints: make(map[uint64]struct{}),
		watchpoints: make(map[watchKey]*watchpoint),
	}
}

func (b *BreakpointSet) SetBreakpoint(addr uint64) {
	b.breakpoints[addr] = struct{}{}
}

func (b *BreakpointSet) ClearBreakpoint(addr uint64) {
	delete(b.breakpoints, addr)
}

func (b *BreakpointSet) HasBreakpoint(addr uint64) bool {
	_, ok := b.breakpoints[addr]
	return ok
}

func (b *BreakpointSet) SetWatchpoint(addr uint64, length int, typ WatchType, conditions [][]byte) {
	k := watchKey{addr: addr, length: length, typ: typ}
	b.watchpoints[k] = &watchpoint{key: k, conditions: conditions}
}

func (b *BreakpointSet) ClearWatchpoint(addr uint64, length int, typ WatchType) {
	delete(b.watchpoints, watchKey{addr: addr, length: length, typ: typ})
}

// HitWatches reports every registered watchpoint overlapping [addr,
// addr+length) whose conditions fire, for the given access type.
func (b *BreakpointSet) HitWatches(addr uint64, length int, typ WatchType, taskPid int32, eval ExpressionEvaluator) []WatchHit {
	var hits []WatchHit
	for _, w := range b.watchpoints {
		if !overlaps(w.key.addr, w.key.length, addr, length) {
			continue
		}
		if w.key.typ != typ && !(w.key.typ == WatchReadWrite) {
			continue
		}
		if !w.fires(taskPid, eval) {
			continue
		}
		hits = append(hits, WatchHit{Addr: w.key.addr, Type: w.key.typ})
	}
	return hits
}

func overlaps(a uint64, alen int, b uint64, blen int) bool {
	aEnd := a + uint64(alen)
	bEnd := b + uint64(blen)
	return a < bEnd && b < aEnd
}

// Empty reports whether no breakpoints or watchpoints are currently armed,
// consulted by ReplayTimeline's noBreakpointsInterval cache.
func (b *BreakpointSet) Empty() bool {
	return len(b.breakpoints) == 0 && len(b.watchpoints) == 0
}

// RemoveAll clears every breakpoint and watchpoint, the
// remove_breakpoints_and_watchpoints operation referenced in spec.md §4.1.
func (b *BreakpointSet) RemoveAll() {
	b.breakpoints = make(map[uint64]struct{})
	b.watchpoints = make(map[watchKey]*watchpoint)
}
