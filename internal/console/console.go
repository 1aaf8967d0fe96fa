// Package console implements the interactive "(rd)" operator console that
// sits alongside the GDB remote-protocol socket, per spec.md §6's gdbinit
// contract naming exactly this prompt. Grounded directly in the teacher's
// debuggerLoop (engine/replay.go): a readline loop, whose own mutex only
// serializes the console's commands, that toggles a handful of
// session-wide booleans and otherwise echoes help text — generalized from
// toggling "reverse debugging" for a DBGP IDE to toggling it for whichever
// gdbserver.Server is currently serving the GDB socket.
package console

import (
	"io"
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/Calinou/rd/internal/rdlog"
)

const helpText = `
(rd) commands:
  t <enter>  toggle between forward and reverse execution
  r <enter>  switch to reverse execution
  f <enter>  switch to forward execution
  v <enter>  toggle verbose logging
  n <enter>  toggle the show-gdb-notifications flag (no output uses it)
  q <enter>  quit
  h <enter>  show this help
`

// Controller is the narrow surface the console needs from the rest of rd:
// flip reverse-execution mode and report it, mirroring the mutex-guarded
// *bool the teacher's debuggerIdeLoop reads on every dispatched request.
type Controller interface {
	SetReverseExecution(reverse bool)
	ReverseExecution() bool
}

// Console runs the interactive loop until EOF, Ctrl-D, or "q". It is meant
// to run in its own goroutine alongside Server.ServeReplay, the way the
// teacher runs debuggerLoop on the main goroutine with debuggerIdeLoop
// spawned alongside it.
type Console struct {
	mu   sync.Mutex
	ctrl Controller
}

// New wires a Console to ctrl, which receives every toggle the operator
// requests.
func New(ctrl Controller) *Console {
	return &Console{ctrl: ctrl}
}

// Run starts the readline prompt and blocks until the operator quits.
func (c *Console) Run() error {
	historyFile := ""
	if u, err := user.Current(); err == nil {
		historyFile = u.HomeDir + "/.rd_history"
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "(rd) ",
		HistoryFile: historyFile,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	rdlog.Info("h <enter> for help")
	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			rdlog.Info("rd: exiting")
			return nil
		}
		if err != nil {
			return err
		}
		c.dispatch(strings.TrimSpace(line))
	}
}

func (c *Console) dispatch(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.HasPrefix(line, "t"):
		c.ctrl.SetReverseExecution(!c.ctrl.ReverseExecution())
		c.reportMode()
	case strings.HasPrefix(line, "r"):
		c.ctrl.SetReverseExecution(true)
		c.reportMode()
	case strings.HasPrefix(line, "f"):
		c.ctrl.SetReverseExecution(false)
		c.reportMode()
	case strings.HasPrefix(line, "v"):
		rdlog.Verbose = !rdlog.Verbose
		rdlog.Info("rd: verbose=%v", rdlog.Verbose)
	case strings.HasPrefix(line, "n"):
		rdlog.ShowGdbNotifications = !rdlog.ShowGdbNotifications
		rdlog.Info("rd: show-gdb-notifications=%v", rdlog.ShowGdbNotifications)
	case strings.HasPrefix(line, "q"):
		rdlog.Info("rd: exiting")
		os.Exit(0)
	case strings.HasPrefix(line, "h"):
		io.WriteString(os.Stdout, helpText)
	default:
		c.reportMode()
	}
}

func (c *Console) reportMode() {
	if c.ctrl.ReverseExecution() {
		rdlog.Danger("in reverse mode")
	} else {
		rdlog.Info("in forward mode")
	}
}
