package gdbserver

import (
	"fmt"

	"github.com/Calinou/rd/internal/session"
)

// diversionState holds the cloned session a diversion runs against, per
// spec.md §4.2: "the server clones the replay session into a
// DiversionSession and services requests against it until the diversion
// ends". Grounded in the teacher's handleInDiversionSessionStandard
// (engine/other_commands.go), which evaluates one DBGP command against a
// gdb-side diversion expression and otherwise falls through to the normal
// replay path — generalized here to a second live session the dispatcher
// can be pointed at.
type diversionState struct {
	div *session.DiversionSession
	// pending holds the first request that arrived during the diversion
	// and could not be serviced by it; per spec.md §4.2 it
	// becomes the next request against the replay session once the
	// diversion ends.
	pending *GdbRequest
}

// BeginDiversion clones the current replay session into a DiversionSession
// and starts routing requests to it. The clone's register/memory state
// diverges freely from here on, never touching the deterministic replay.
func (s *Server) BeginDiversion(from *session.ReplaySession) error {
	div, err := session.NewDiversionSession(from)
	if err != nil {
		return fmt.Errorf("beginning diversion: %w", err)
	}
	s.diversion = &diversionState{div: div}
	s.state = StateDiverting
	return nil
}

// InDiversion reports whether requests are currently routed to a
// DiversionSession instead of the replay session.
func (s *Server) InDiversion() bool {
	return s.diversion != nil
}

// endDiversion ends the diversion, per the "RDCmd_EndDiversion" sentinel
// spec.md §4.2 names: the diverted clone is simply dropped, and any
// request that arrived but could not be serviced during the diversion
// becomes the next request against the replay session.
func (s *Server) endDiversion() *GdbRequest {
	if s.diversion == nil {
		return nil
	}
	pending := s.diversion.pending
	s.diversion = nil
	s.state = StateServing
	return pending
}

// DeferRequest stashes req as the pending request to replay against the
// primary session once the current diversion ends. Only the first deferred
// request is kept; later ones are dropped.
func (s *Server) DeferRequest(req GdbRequest) {
	if s.diversion != nil && s.diversion.pending == nil {
		s.diversion.pending = &req
	}
}
