// Package timeline implements ReplayTimeline: navigable execution over a
// replay session with forward/backward stepping, interned Marks, and
// checkpoints. Grounded in the teacher's engineState/continueExecution
// (engine/base.go) generalized from "step to the next observable PHP
// statement over gdb/MI" to "step to the next observable machine state over
// a ReplaySession", and in undoio-delve's undoSession (checkpointNextId,
// checkpoints map, travelToTime, resolveUserTime) for the checkpoint-table
// and mark/time-travel shape.
package timeline

import (
	"fmt"

	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
)

// Mark is an interned handle denoting a reachable replay state. Two marks
// are equal iff they denote the same (event, tick, register-state,
// in-instruction-phase) point; marks form a total order along the trace,
// per spec.md §3.
type Mark struct {
	key markKey
}

// Less reports whether m denotes an earlier point along the trace than
// other. Marks are only comparable within the timeline that interned them.
func (m Mark) Less(other Mark) bool {
	return m.key.less(other.key)
}

func (m Mark) Equal(other Mark) bool {
	return m.key == other.key
}

func (m Mark) String() string {
	return fmt.Sprintf("mark{event=%d tick=%d phase=%d}", m.key.event, m.key.tick, m.key.phase)
}

// markKey is the totally ordered tuple a Mark interns. phase distinguishes
// multiple marks recorded at the same (event, tick) but different
// in-instruction points (e.g. before/after a fast-forwarded REP loop).
type markKey struct {
	event session.FrameTime
	tick  int64
	phase int
}

func (k markKey) less(other markKey) bool {
	if k.event != other.event {
		return k.event < other.event
	}
	if k.tick != other.tick {
		return k.tick < other.tick
	}
	return k.phase < other.phase
}

// markState is everything a Mark needs to carry so the timeline can later
// restore the exact register state without re-running the session, used by
// the lazy-reverse-singlestep path (spec.md §4.1).
type markState struct {
	key  markKey
	tuid taskmodel.TaskUid
	regs taskmodel.Registers
}

// markDB interns marks so that repeated calls to Mark() for the same state
// return an Equal Mark, and keeps the cached register state that backs lazy
// reverse-singlestep.
type markDB struct {
	states []markState
}

func newMarkDB() *markDB {
	return &markDB{}
}

// intern returns the existing Mark for key if one was already recorded,
// otherwise records and returns a new one. Interning never fails, per
// spec.md §4.1's failure semantics ("Mark interning cannot fail").
func (db *markDB) intern(key markKey, tuid taskmodel.TaskUid, regs taskmodel.Registers) Mark {
	for _, st := range db.states {
		if st.key == key {
			return Mark{key: key}
		}
	}
	db.states = append(db.states, markState{key: key, tuid: tuid, regs: regs})
	return Mark{key: key}
}

// lookup returns the cached state for m, if any was interned.
func (db *markDB) lookup(m Mark) (markState, bool) {
	for _, st := range db.states {
		if st.key == m.key {
			return st, true
		}
	}
	return markState{}, false
}

// predecessor returns the greatest interned mark strictly less than m, used
// by reverse_step to find prev_of(S) without assuming every event has a
// mark already interned for it.
func (db *markDB) predecessor(m Mark) (Mark, bool) {
	var best *markState
	for i := range db.states {
		st := &db.states[i]
		if st.key.less(m.key) {
			if best == nil || best.key.less(st.key) {
				best = st
			}
		}
	}
	if best == nil {
		return Mark{}, false
	}
	return Mark{key: best.key}, true
}
