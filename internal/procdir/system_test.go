//go:build !windows

package procdir

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemListFindsAndKillsChild(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(path, "30")
	require.NoError(t, cmd.Start())
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
	})

	dir := NewSystem()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot, err := dir.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snapshot)

	pids := dir.FindByName(snapshot, "sleep")
	require.True(t, pids.Has(cmd.Process.Pid), "expected pid %d among %v", cmd.Process.Pid, pids.Sorted())

	require.True(t, dir.Kill(cmd.Process.Pid))
	select {
	case <-waitErr:
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit after kill", cmd.Process.Pid)
	}
}

func TestSystemFindsProcessStartedThroughSymlink(t *testing.T) {
	target, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	link := filepath.Join(t.TempDir(), "acme-server")
	require.NoError(t, os.Symlink(target, link))

	cmd := exec.Command(link, "30")
	require.NoError(t, cmd.Start())
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
	})

	dir := NewSystem()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The child may still be between fork and exec on the first scan.
	var pids PIDSet
	deadline := time.Now().Add(5 * time.Second)
	for {
		snapshot, err := dir.List(ctx)
		require.NoError(t, err)
		pids = dir.FindByName(snapshot, "acme-server")
		if pids.Has(cmd.Process.Pid) || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, pids.Has(cmd.Process.Pid), "expected pid %d among %v", cmd.Process.Pid, pids.Sorted())

	require.True(t, dir.Kill(cmd.Process.Pid))
	select {
	case <-waitErr:
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit after kill", cmd.Process.Pid)
	}
}

func TestSystemKillRejectsNonPositivePID(t *testing.T) {
	dir := NewSystem()
	require.False(t, dir.Kill(0))
	require.False(t, dir.Kill(-1))
}

func TestQueryErrorUnwraps(t *testing.T) {
	cause := errors.New("no /proc")
	var err error = &QueryError{Op: "enumerate", Err: cause}

	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "enumerate")
}

type staticDirectory struct {
	snapshot []Entry
	err      error
}

func (d *staticDirectory) List(context.Context) ([]Entry, error) { return d.snapshot, d.err }
func (d *staticDirectory) FindByName(s []Entry, name string) PIDSet {
	return Match(s, name)
}
func (d *staticDirectory) Kill(int) bool { return false }

func TestSignallerReportsOutcomes(t *testing.T) {
	_, err := NewSignaller(&staticDirectory{}, "SIGBOGUS")
	require.Error(t, err)

	failing, err := NewSignaller(&staticDirectory{err: &QueryError{Op: "enumerate", Err: errors.New("boom")}}, "")
	require.NoError(t, err)
	require.Equal(t, DefaultShutdownSignal, failing.Signal())
	require.False(t, failing.RequestShutdown(context.Background(), "server"))

	empty, err := NewSignaller(&staticDirectory{}, "TERM")
	require.NoError(t, err)
	require.True(t, empty.RequestShutdown(context.Background(), "server"))
}

func TestSignallerDeliversToChild(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(path, "30")
	require.NoError(t, cmd.Start())
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	dir := &staticDirectory{snapshot: []Entry{{PID: cmd.Process.Pid, Path: path}}}
	sig, err := NewSignaller(dir, "SIGTERM")
	require.NoError(t, err)
	require.True(t, sig.RequestShutdown(context.Background(), "sleep"))

	select {
	case err := <-waitErr:
		require.Error(t, err, "sleep should report termination by signal")
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit after SIGTERM")
	}
}
