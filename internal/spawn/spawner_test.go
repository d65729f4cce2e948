//go:build !windows

package spawn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSpawnReturnsPidImmediately(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")

	pid, err := NewExec().Spawn(context.Background(), "/bin/sh", "-c 'touch "+marker+"; sleep 0.1'", ReturnImmediately|HideWindow)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected a pid, got %d", pid)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("child never created %s", marker)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpawnWaitsWithoutReturnImmediately(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "done")

	if _, err := NewExec().Spawn(context.Background(), "/bin/sh", "-c 'touch "+marker+"'", 0); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected child to have finished: %v", err)
	}
}

func TestSpawnClassifiesFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := NewExec().Spawn(context.Background(), filepath.Join(dir, "missing"), "", ReturnImmediately)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	script := filepath.Join(dir, "not-exec")
	if err := os.WriteFile(script, []byte("plain text\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err = NewExec().Spawn(context.Background(), script, "", ReturnImmediately)
	if !errors.Is(err, ErrBadProgram) {
		t.Fatalf("expected ErrBadProgram for non-executable file, got %v", err)
	}
}

func TestSpawnRejectsUnbalancedQuotes(t *testing.T) {
	_, err := NewExec().Spawn(context.Background(), "/bin/true", "'unterminated", ReturnImmediately)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadProgram) {
		t.Fatalf("parse error should not be classified, got %v", err)
	}
}

func TestExecReportsPID(t *testing.T) {
	if !ReportsPID(NewExec()) {
		t.Fatalf("expected the exec spawner to report pids")
	}
	var anonymous Spawner = spawnerFunc(func(context.Context, string, string, Flags) (int, error) { return 0, nil })
	if ReportsPID(anonymous) {
		t.Fatalf("spawners without ReportsPID must not be trusted for pids")
	}
}

type spawnerFunc func(context.Context, string, string, Flags) (int, error)

func (f spawnerFunc) Spawn(ctx context.Context, path, params string, flags Flags) (int, error) {
	return f(ctx, path, params, flags)
}
