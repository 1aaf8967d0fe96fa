package gdbserver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/Calinou/rd/internal/rdlog"
	"github.com/Calinou/rd/internal/timeline"
)

// Transport is the byte-framed request/reply seam spec.md §6 assumes: GDB
// remote protocol wire decoding is out of scope for this core, so a framer
// living outside this package turns raw bytes into typed GdbRequests and
// Replies back into packets.
type Transport interface {
	ReadRequest() (GdbRequest, error) // io.EOF on client disconnect
	WriteReply(Reply) error
	Close() error
}

// TransportFactory wraps an accepted net.Conn in a Transport. Injected so
// tests can serve in-memory connections without a real wire framer.
type TransportFactory func(net.Conn) Transport

// DebuggerParams is the record spec.md §6 describes: written once through
// an inherited pipe so a supervisor can exec a GDB client pointed at this
// server.
type DebuggerParams struct {
	ExeImage string
	Host     [16]byte // INET_ADDRSTRLEN, holding an IPv4 literal
	Port     uint16
}

// Encode serializes params in host-native byte order, per spec.md §6: this
// pipe is intra-host only.
func (p DebuggerParams) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(p.ExeImage)
	buf.WriteByte(0)
	buf.Write(p.Host[:])
	portBuf := make([]byte, 2)
	binary.NativeEndian.PutUint16(portBuf, p.Port)
	buf.Write(portBuf)
	return buf.Bytes()
}

// ServeReplayOptions bundles ServeReplay's non-core dependencies: the exe
// image path recorded in DebuggerParams, and the CPUFeatures the host
// actually has (spec.md §6's cpuid(1).ecx check is a host-capability
// probe, not core logic, so it is injected rather than read directly here).
type ServeReplayOptions struct {
	ExeImage string
	Features CPUFeaturesFn
}

// ServeReplay drives spec.md §4.2's lifecycle step 2: advance the replay
// until AtTarget() holds, open a listening socket, optionally hand its
// address to a supervisor over a pipe, then serve connections while
// flags.KeepListening.
func (s *Server) ServeReplay(flags ConnectionFlags, factory TransportFactory, opts ServeReplayOptions) error {
	if factory == nil {
		return fmt.Errorf("gdbserver: ServeReplay requires a TransportFactory (wire decoding is out of scope for this package)")
	}
	if opts.Features == nil {
		opts.Features = func() CPUFeatures { return 0 }
	}
	for !s.AtTarget() {
		result, err := s.Timeline.ReplayStepForward(timeline.CmdContinue, s.finalEvent, s.eval)
		if err != nil {
			return fmt.Errorf("advancing to target: %w", err)
		}
		if result.Status == timeline.ReplayExited {
			rdlog.Warn("rd: trace exhausted before reaching debug target")
			return nil
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", flags.DbgPort)
	if flags.DbgPort == 0 {
		addr = fmt.Sprintf("127.0.0.1:%d", 9000+(os.Getpid()%1000))
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening for gdb client: %w", err)
	}
	defer listener.Close()
	rdlog.Info("rd: listening for gdb client on %s", listener.Addr())

	if flags.DebuggerParamsWriteFd != nil {
		tcpAddr := listener.Addr().(*net.TCPAddr)
		params := DebuggerParams{ExeImage: opts.ExeImage, Port: uint16(tcpAddr.Port)}
		copy(params.Host[:], "127.0.0.1")
		if _, err := flags.DebuggerParamsWriteFd.Write(params.Encode()); err != nil {
			return fmt.Errorf("writing debugger params: %w", err)
		}
		flags.DebuggerParamsWriteFd.Close()
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accepting gdb client: %w", err)
		}
		s.serveOneConnection(conn, factory(conn), opts.Features)
		if !flags.KeepListening {
			return nil
		}
	}
}

func (s *Server) serveOneConnection(conn net.Conn, t Transport, features CPUFeaturesFn) {
	defer conn.Close()
	defer t.Close()

	if err := s.ActivateDebugger(); err != nil {
		rdlog.Warn("rd: activating debugger: %v", err)
		return
	}
	defer s.Deactivate()

	for {
		req, err := t.ReadRequest()
		if err == io.EOF {
			return
		}
		if err != nil {
			rdlog.Warn("rd: reading gdb request: %v", err)
			return
		}

		if s.InDiversion() {
			// Diversion-bound requests are serviced by the operator-facing
			// qRDCmd handler until RDCmd_EndDiversion; anything else here is
			// deferred back to the replay session per spec.md §4.2.
			if req.Kind != ReqRDCmd {
				s.DeferRequest(req)
				continue
			}
		}

		var deferred *GdbRequest
		if s.InDiversion() {
			deferred = s.diversion.pending
		}
		reply, err := s.safeDispatch(req, features())
		if err != nil {
			rdlog.Warn("rd: dispatching gdb request: %v", err)
			reply = Reply{Err: err.Error()}
		}
		if err := t.WriteReply(reply); err != nil {
			rdlog.Warn("rd: writing gdb reply: %v", err)
			return
		}
		// A diversion that just ended hands its deferred request to the replay session.
		if deferred != nil && !s.InDiversion() {
			reply, err = s.safeDispatch(*deferred, features())
			if err != nil {
				reply = Reply{Err: err.Error()}
			}
			if err := t.WriteReply(reply); err != nil {
				rdlog.Warn("rd: writing gdb reply: %v", err)
				return
			}
		}
	}
}

// safeDispatch recovers a per-connection panic the way the teacher's
// debuggerIdeLoop recovers a per-connection panic in dispatchIdeRequest:
// a bug that violates an internal invariant (spec.md §7's fatal kinds)
// should not take down every other connection this process is serving.
func (s *Server) safeDispatch(req GdbRequest, features CPUFeatures) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			rdlog.Danger("rd: recovered panic servicing gdb request: %v", r)
			err = fmt.Errorf("internal error servicing request: %v", r)
		}
	}()
	return s.Dispatch(req, features)
}
