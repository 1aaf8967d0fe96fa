package gdbserver

import (
	"fmt"
	"sort"

	"github.com/Calinou/rd/internal/timeline"
)

// checkpointTable is the GDB-visible id -> Checkpoint mapping spec.md §4.2
// says GdbServer owns (distinct from ReplayTimeline's own internal
// checkpoint-pin bookkeeping: every GDB-visible checkpoint is also pinned
// in the timeline, but the timeline doesn't know about GDB's small integer
// ids). Grounded in undoio-delve's undoSession.checkpoints map
// (checkpointNextId, map[int]proc.Checkpoint).
type checkpointTable struct {
	byID   map[int]timeline.Checkpoint
	nextID int
}

func newCheckpointTable() *checkpointTable {
	return &checkpointTable{byID: make(map[int]timeline.Checkpoint), nextID: 1}
}

func (t *checkpointTable) add(cp timeline.Checkpoint) int {
	id := t.nextID
	t.nextID++
	t.byID[id] = cp
	return id
}

func (t *checkpointTable) remove(id int) (timeline.Checkpoint, bool) {
	cp, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	return cp, ok
}

func (t *checkpointTable) get(id int) (timeline.Checkpoint, bool) {
	cp, ok := t.byID[id]
	return cp, ok
}

// ids returns every currently valid id in ascending order, for the
// bad-checkpoint-id error message spec.md §4.2 describes ("print the valid
// ids").
func (t *checkpointTable) ids() []int {
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *checkpointTable) describeValidIDs() string {
	ids := t.ids()
	if len(ids) == 0 {
		return "no checkpoints are set"
	}
	return fmt.Sprintf("valid checkpoint ids: %v", ids)
}
