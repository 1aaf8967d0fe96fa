// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"log"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Calinou/rd/internal/config"
	"github.com/Calinou/rd/internal/console"
	"github.com/Calinou/rd/internal/gdbserver"
	"github.com/Calinou/rd/internal/rdlog"
	"github.com/Calinou/rd/internal/session"
	"github.com/Calinou/rd/internal/taskmodel"
	"github.com/Calinou/rd/internal/timeline"
)

// unopenedTraceReplayer is the placeholder timeline.Replayer plugged in
// until a real trace-file reader (out of scope per spec.md §1) is wired in
// its place; every method reports the trace as unreadable rather than
// silently pretending to replay nothing, the way the teacher's
// CheckRRExecutable/CheckGdbExecutable fail fast on a missing collaborator
// binary instead of limping along without it.
type unopenedTraceReplayer struct{ traceDir string }

func (r *unopenedTraceReplayer) err() error {
	return fmt.Errorf("rd replay: no trace reader wired up for %q (trace file I/O is an external collaborator, see spec.md §1)", r.traceDir)
}

func (r *unopenedTraceReplayer) StepForward(timeline.StepCommand, session.FrameTime, *timeline.BreakpointSet, timeline.ExpressionEvaluator) (timeline.BreakStatus, bool, error) {
	return timeline.BreakStatus{}, false, r.err()
}
func (r *unopenedTraceReplayer) Clone() (timeline.Replayer, error)   { return nil, r.err() }
func (r *unopenedTraceReplayer) Restore(timeline.Replayer) error     { return r.err() }
func (r *unopenedTraceReplayer) CurrentFrameTime() session.FrameTime { return 0 }
func (r *unopenedTraceReplayer) CurrentTick() int64                  { return 0 }
func (r *unopenedTraceReplayer) CurrentTuid() taskmodel.TaskUid       { return taskmodel.TaskUid{} }
func (r *unopenedTraceReplayer) CurrentRegs() taskmodel.Registers     { return taskmodel.Registers{} }
func (r *unopenedTraceReplayer) CanCheckpoint() bool                  { return false }

// unframedTransport is the placeholder gdbserver.Transport plugged in until a
// real GDB remote protocol packet framer is wired in its place. Per spec.md
// §1, "GDB-protocol wire-format parsing" is an external collaborator: the
// core "assumes a byte-framed transport providing typed GdbRequest/reply
// primitives" exists outside it. Passing a nil factory made ServeReplay
// refuse the command outright before opening a socket; this factory instead
// accepts the client and fails the first request it would need to decode
// with a clear, spec-referencing error, the same documented-gap pattern
// unopenedTraceReplayer uses for the missing trace reader.
type unframedTransport struct{ conn net.Conn }

func newUnframedTransport(conn net.Conn) gdbserver.Transport {
	return &unframedTransport{conn: conn}
}

func (t *unframedTransport) ReadRequest() (gdbserver.GdbRequest, error) {
	return gdbserver.GdbRequest{}, fmt.Errorf("rd replay: no GDB remote protocol packet framer wired up (wire-format parsing is an external collaborator, see spec.md §1)")
}

func (t *unframedTransport) WriteReply(gdbserver.Reply) error { return nil }

func (t *unframedTransport) Close() error { return t.conn.Close() }

// replayCmd serves the GDB remote protocol over a recorded trace: the rd
// analogue of the teacher's replayCmd spawning `rr replay` and a real gdb
// client under pty/MI. Here the process itself is both the replay engine
// and the GDB-remote-protocol endpoint, so there is no subprocess to spawn
// — only a listener to open once the trace reaches the debug target.
var replayCmd = &cobra.Command{
	Use:   "replay <trace-dir>",
	Short: "Replay a recorded trace and serve it over the GDB remote protocol",
	Run: func(cmd *cobra.Command, args []string) {
		rdlog.Verbose = viper.GetBool("verbose")
		if len(args) < 1 {
			log.Fatal("rd replay: please provide a trace directory")
		}

		cfg := config.Default()
		cfg.Verbose = rdlog.Verbose
		cfg.TraceDir = args[0]
		cfg.GdbPort = viper.GetInt("gdb-port")
		cfg.KeepListening = viper.GetBool("keep-listening")
		cfg.TargetPid = int32(viper.GetInt("target-pid"))
		cfg.RequireExec = viper.GetBool("require-exec")
		cfg.ReverseExecution = viper.GetBool("reverse-execution")

		target := gdbserver.Target{RequireExec: cfg.RequireExec}
		if cfg.TargetPid != 0 {
			target.Pid = taskmodel.SomeThreadGroupUid(taskmodel.ThreadGroupUid{Pid: cfg.TargetPid})
		}

		rdlog.Warn("rd: replaying trace %q", cfg.TraceDir)

		sess := session.NewReplaySession(0)
		tl := timeline.NewReplayTimeline(&unopenedTraceReplayer{traceDir: cfg.TraceDir})
		srv := gdbserver.New(sess, tl, target)
		srv.SetReverseExecution(cfg.ReverseExecution)
		srv.SetCommandHandler(gdbserver.NewDefaultCommandHandler(srv))

		if viper.GetBool("interactive") {
			go func() {
				c := console.New(srv)
				if err := c.Run(); err != nil {
					rdlog.Warn("rd: console exited: %v", err)
				}
			}()
		}

		flags := gdbserver.ConnectionFlags{
			DbgPort:       cfg.GdbPort,
			KeepListening: cfg.KeepListening,
		}
		if err := srv.ServeReplay(flags, newUnframedTransport, gdbserver.ServeReplayOptions{}); err != nil {
			log.Fatalf("rd replay: %v", err)
		}
	},
}

func init() {
	RootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Int("gdb-port", defaultGdbPort, "fixed port to serve the GDB remote protocol on (0 listens on 9000 + pid mod 1000)")
	replayCmd.Flags().Int("dbg-port-probe-base", defaultDbgPortProbeBase, "base port setting; the GDB server does not consult it")
	replayCmd.Flags().Bool("keep-listening", false, "re-accept connections after a client disconnects")
	replayCmd.Flags().Int("target-pid", 0, "restrict replay to the trace's given thread group (0 means any)")
	replayCmd.Flags().Bool("require-exec", false, "require the initial exec to have already completed before serving")
	replayCmd.Flags().Bool("reverse-execution", true, "enable reverse stepping/continue")
	replayCmd.Flags().Bool("interactive", false, "run the (rd) operator console alongside the GDB socket")
}
