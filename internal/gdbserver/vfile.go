package gdbserver

import (
	"fmt"
	"os"
)

// vfileTable is the open-files table spec.md §4.2 says GdbServer owns for
// the vFile: request family. Grounded in the teacher's ScopedFd-adjacent
// cleanup discipline (engine/record.go/replay.go defer Close()):
// every entry here is released by Close, and CloseAll is called once on
// disconnect so a client that vanishes mid-vFile-session never leaks fds.
type vfileTable struct {
	files map[int]*os.File
	nsPid int32
	nextFD int
}

func newVFileTable() *vfileTable {
	return &vfileTable{files: make(map[int]*os.File), nextFD: 1}
}

// SetFS sets the namespace pid subsequent Open calls resolve paths against,
// per spec.md §4.2's vFile:SETFS.
func (t *vfileTable) SetFS(pid int32) {
	t.nsPid = pid
}

// Open resolves path against the session's view of the inferior's
// filesystem and returns an internal fd. The actual resolution (walking
// /proc/<pid>/root, or an in-trace filesystem snapshot) is an external
// collaborator; this table only owns the fd-indexing contract.
func (t *vfileTable) Open(resolve func(nsPid int32, path string) (*os.File, error), path string, flags int) (int, error) {
	f, err := resolve(t.nsPid, path)
	if err != nil {
		return -1, err
	}
	fd := t.nextFD
	t.nextFD++
	t.files[fd] = f
	return fd, nil
}

func (t *vfileTable) Pread(fd int, count int, offset int64) ([]byte, error) {
	f, ok := t.files[fd]
	if !ok {
		return nil, fmt.Errorf("vFile: unknown fd %d", fd)
	}
	buf := make([]byte, count)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

func (t *vfileTable) Close(fd int) error {
	f, ok := t.files[fd]
	if !ok {
		return fmt.Errorf("vFile: unknown fd %d", fd)
	}
	delete(t.files, fd)
	return f.Close()
}

// CloseAll releases every still-open fd, called once per disconnect.
func (t *vfileTable) CloseAll() {
	for fd, f := range t.files {
		f.Close()
		delete(t.files, fd)
	}
}
