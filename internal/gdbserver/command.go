package gdbserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Calinou/rd/internal/timeline"
)

// DefaultCommandHandler services the qRDCmd channel's checkpoint commands,
// the GDB-visible counterpart to the "checkpoint"/"restart"/"delete
// checkpoint" gdb macros the real rd documents in its gdb_rd_macros_init
// block. Grounded in the teacher's diversionSessionCmd (engine/
// other_commands.go), which evaluates one DBGP command string against the
// live session and returns a plain-text reply — generalized here from
// shelling a command out to a gdb-side expression to parsing it directly,
// since GdbServer already owns the checkpoint table and timeline a gdb
// macro would otherwise have to poke through gdb itself.
//
// Commands arrive "<name>:<arg1>:<arg2>:..." with the qRDCmd: wire prefix
// already stripped, per original_source's process_command doc comment:
//
//	checkpoint[:where]   pin an explicit checkpoint, reply "Checkpoint N at where"
//	delete:N              release checkpoint N
//	info                   list every live checkpoint id and its annotation
type DefaultCommandHandler struct {
	srv *Server
}

// NewDefaultCommandHandler returns the qRDCmd handler bound to srv's own
// checkpoint table and timeline.
func NewDefaultCommandHandler(srv *Server) *DefaultCommandHandler {
	return &DefaultCommandHandler{srv: srv}
}

func (h *DefaultCommandHandler) Handle(cmd string) string {
	parts := strings.Split(cmd, ":")
	name := parts[0]
	args := parts[1:]

	switch name {
	case "checkpoint":
		return h.handleCheckpoint(args)
	case "delete":
		return h.handleDelete(args)
	case "info":
		return h.handleInfo()
	default:
		return fmt.Sprintf("Unknown rd command: %v", cmd)
	}
}

// defaultCheckpointNote synthesizes a "where" annotation when the caller
// doesn't supply one, since ValidateCheckpointNote rejects both the empty
// string and the bare word "checkpoint".
func (s *Server) defaultCheckpointNote() string {
	return fmt.Sprintf("gdb-checkpoint-at-event-%d", s.sess.CurrentFrameTime())
}

func (h *DefaultCommandHandler) handleCheckpoint(args []string) string {
	where := ""
	if len(args) > 0 {
		where = args[0]
	}
	if where == "" {
		where = h.srv.defaultCheckpointNote()
	}

	mark, err := h.srv.Timeline.AddExplicitCheckpoint(where)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	cp := timeline.Checkpoint{
		Mark:          mark,
		LastContinued: h.srv.lastContinueTuid.Uid,
		Where:         where,
		Explicit:      true,
	}
	id := h.srv.checkpoints.add(cp)
	return fmt.Sprintf("Checkpoint %d at %s", id, where)
}

func (h *DefaultCommandHandler) handleDelete(args []string) string {
	if len(args) == 0 {
		return "error: delete requires a checkpoint id"
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("error: invalid checkpoint id %q", args[0])
	}
	cp, ok := h.srv.checkpoints.remove(id)
	if !ok {
		return fmt.Sprintf("no such checkpoint %d", id)
	}
	h.srv.Timeline.RemoveExplicitCheckpoint(cp.Mark)
	return fmt.Sprintf("Deleted checkpoint %d", id)
}

func (h *DefaultCommandHandler) handleInfo() string {
	ids := h.srv.checkpoints.ids()
	if len(ids) == 0 {
		return "no checkpoints are set"
	}
	var sb strings.Builder
	for _, id := range ids {
		cp, _ := h.srv.checkpoints.get(id)
		fmt.Fprintf(&sb, "%d: %s\n", id, cp.Where)
	}
	return sb.String()
}
