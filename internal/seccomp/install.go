package seccomp

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Calinou/rd/internal/taskmodel"
)

// ErrUnreadableFilterProgram is spec.md §7's UnreadableTraceeMemory as it
// applies to the filter-install path: "if the user's filter program cannot
// be read from the tracee (bad pointer), re-issue the original syscall
// verbatim so the kernel returns the appropriate EFAULT/ENOSYS."
var ErrUnreadableFilterProgram = errors.New("seccomp: filter program unreadable in tracee memory")

// SyscallInstaller is the narrow ptrace/remote-syscall seam Install uses to
// execute the prctl/seccomp syscall remotely in the tracee and to write the
// patched program into scratch memory. Raw ptrace wrappers are out of
// scope per spec.md §1.
type SyscallInstaller interface {
	ReadFilterProgram(task taskmodel.Task, addr uint64, count int) ([]unix.SockFilter, error)
	WriteScratch(task taskmodel.Task, program []unix.SockFilter) (scratchAddr uint64, err error)
	ExecRemoteSyscall(task taskmodel.Task, nr int64, args [6]uint64) (int64, error)
	MarkSeccompActive(task taskmodel.Task)
	SiblingsInThreadGroup(task taskmodel.Task) []taskmodel.Task
}

// Flags mirror the prctl/seccomp flags relevant to install, per spec.md
// §4.4.
type Flags struct {
	TSync bool
}

// InstallPatchedSeccompFilter is spec.md §4.4's install_patched_seccomp_filter:
// read the user's filter program, rewrite it, write it into tracee scratch,
// execute the original syscall remotely with the rewritten program
// substituted, restore the original syscall number on return, and mark the
// task (and, under TSYNC, its siblings) seccomp-active.
func (r *Rewriter) InstallPatchedSeccompFilter(
	installer SyscallInstaller,
	task taskmodel.Task,
	origSyscallNo int64,
	origSyscallArgs [6]uint64,
	filterAddr uint64,
	filterLen int,
	rdPageCallsites []uint64,
	flags Flags,
) error {
	program, err := installer.ReadFilterProgram(task, filterAddr, filterLen)
	if err != nil {
		// Re-issue the original syscall unchanged so the kernel itself
		// reports the bad pointer to the tracee.
		if _, execErr := installer.ExecRemoteSyscall(task, origSyscallNo, origSyscallArgs); execErr != nil {
			return fmt.Errorf("%w: %v; re-issuing original syscall: %v", ErrUnreadableFilterProgram, err, execErr)
		}
		return fmt.Errorf("%w: %v", ErrUnreadableFilterProgram, err)
	}

	rewritten, err := r.Rewrite(program, rdPageCallsites)
	if err != nil {
		return err
	}

	scratchAddr, err := installer.WriteScratch(task, rewritten)
	if err != nil {
		return fmt.Errorf("writing patched filter to scratch: %w", err)
	}

	args := origSyscallArgs
	args[2] = scratchAddr

	result, err := installer.ExecRemoteSyscall(task, origSyscallNo, args)
	if err != nil {
		return fmt.Errorf("installing patched seccomp filter: %w", err)
	}
	if result != 0 {
		return fmt.Errorf("seccomp install syscall returned %d", result)
	}

	installer.MarkSeccompActive(task)
	if flags.TSync {
		for _, sibling := range installer.SiblingsInThreadGroup(task) {
			installer.MarkSeccompActive(sibling)
		}
	}
	return nil
}
