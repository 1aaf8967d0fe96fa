package timeline

import (
	"fmt"
	"regexp"

	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
)

// Checkpoint is a Mark plus the user-facing metadata spec.md §3 describes:
// the last-continued task, a free-text "where" annotation, and the Explicit
// flag that decides whether the timeline's garbage collector must leave it
// alone.
type Checkpoint struct {
	Mark          Mark
	LastContinued taskmodel.TaskUid
	Where         string
	Explicit      bool

	session session.Session // not set by ReplayTimeline, which keeps the pinning clone in its checkpointEntry
}

// reservedCheckpointWords may not be used as a checkpoint's "where" note on
// their own, matching undoio-delve's validateCheckpointNote bookmark-name
// rules (pkg/proc/gdbserial/undo.go) generalized from bookmark names to
// checkpoint annotations: both are short user-facing names that must not
// collide with the debugger's own vocabulary ("start", "end", and so on).
var reservedCheckpointWords = map[string]bool{
	"annotation": true,
	"bookmark":   true,
	"checkpoint": true,
	"end":        true,
	"event":      true,
	"inferior":   true,
	"pc":         true,
	"start":      true,
	"time":       true,
	"wallclock":  true,
}

var leadingDigitOrSpace = regexp.MustCompile(`^[\s0-9,-]`)

// ValidateCheckpointNote rejects a proposed "where" annotation the same way
// undoio-delve rejects a malformed bookmark name: no leading whitespace,
// digit, comma, or dash (those are reserved for the auto-generated "cN"
// form), and no bare reserved word.
func ValidateCheckpointNote(note string) error {
	if note == "" {
		return fmt.Errorf("checkpoint note must not be empty")
	}
	if leadingDigitOrSpace.MatchString(note) {
		return fmt.Errorf("checkpoint note %q must not start with whitespace, a digit, a comma, or a dash", note)
	}
	if reservedCheckpointWords[note] {
		return fmt.Errorf("checkpoint note %q is a reserved word", note)
	}
	return nil
}
