// Package launcher starts the traced program under a pty for the initial
// ptrace-attach handshake at record time. Grounded in the teacher's
// doRecordSession (engine/record.go): spawn the child under a pty so its
// stdio behaves like a terminal, stream its output to our own stdout, and
// forward Ctrl-C so the child gets a chance to flush its own state before
// exiting instead of dying abruptly. The ptrace-attach handshake itself and
// everything downstream of it are out of scope per spec.md §1; this only
// covers getting the tracee running under a pty.
package launcher

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/kr/pty"

	"github.com/Calinou/rd/internal/rdlog"
)

// Launch starts argv[0] with argv[1:] under a pty, streaming its output
// through logLine (so callers can scan for a startup sentinel the way the
// teacher scans rr's own stdout for its trace-directory banner) and
// forwarding SIGINT to the child. It blocks until the child exits.
func Launch(argv []string, logLine func(string)) error {
	if logLine == nil {
		logLine = func(string) {}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(f)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				logLine(line)
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				rdlog.Warn("rd: reading tracee pty output: %v", err)
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			rdlog.Warn("rd: forwarding Ctrl-C to recording session")
			f.Write([]byte{3}) // ASCII ETX
		case <-done:
		}
	}()

	err = cmd.Wait()
	<-done
	return err
}
