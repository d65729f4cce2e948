// Package spawn starts configured applications as detached child processes.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"

	"github.com/kballard/go-shellquote"
)

// Flags adjust how a child process is started.
type Flags uint8

const (
	// ReturnImmediately hands back control as soon as the child is running
	// instead of waiting for it to exit.
	ReturnImmediately Flags = 1 << iota
	// HideWindow suppresses the console window on platforms that have one.
	HideWindow
)

var (
	// ErrNotFound means the executable or one of its path components does not exist.
	ErrNotFound = errors.New("executable not found")
	// ErrBadProgram means the file exists but cannot be executed.
	ErrBadProgram = errors.New("not a valid executable")
)

// Spawner starts a program and reports its process id. A zero pid with a nil
// error means the program started but its identifier is unknown.
type Spawner interface {
	Spawn(ctx context.Context, path, params string, flags Flags) (int, error)
}

// PIDReporter is implemented by spawners that always know the pid of the
// process they started.
type PIDReporter interface {
	ReportsPID() bool
}

// ReportsPID reports whether s guarantees a pid for every successful spawn.
func ReportsPID(s Spawner) bool {
	r, ok := s.(PIDReporter)
	return ok && r.ReportsPID()
}

// Exec is the Spawner backed by os/exec.
type Exec struct{}

// ReportsPID is always true: a started os/exec command carries its pid.
func (e *Exec) ReportsPID() bool {
	return true
}

// NewExec constructs the default spawner.
func NewExec() *Exec {
	return &Exec{}
}

// Spawn starts path with params split according to shell quoting rules. The
// child is placed in its own process group so signals aimed at the supervisor
// do not reach it. With ReturnImmediately the child is reaped in the
// background.
func (e *Exec) Spawn(ctx context.Context, path, params string, flags Flags) (int, error) {
	args, err := shellquote.Split(params)
	if err != nil {
		return 0, fmt.Errorf("parse parameters for %s: %w", path, err)
	}

	// The child outlives the request that launched it, so it is not bound to ctx.
	cmd := exec.Command(path, args...)
	configureSysProcAttr(cmd, flags)

	if err := cmd.Start(); err != nil {
		return 0, classify(path, err)
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}

	if flags&ReturnImmediately != 0 {
		go func() {
			_ = cmd.Wait()
		}()
		return pid, nil
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case err := <-waitErr:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return pid, fmt.Errorf("wait for %s: %w", path, err)
		}
		return pid, nil
	case <-ctx.Done():
		return pid, ctx.Err()
	}
}

func classify(path string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("start %s: %w: %v", path, ErrNotFound, err)
	case errors.Is(err, syscall.ENOEXEC), errors.Is(err, fs.ErrPermission), isBadFormat(err):
		return fmt.Errorf("start %s: %w: %v", path, ErrBadProgram, err)
	default:
		return fmt.Errorf("start %s: %w", path, err)
	}
}

var _ Spawner = (*Exec)(nil)
