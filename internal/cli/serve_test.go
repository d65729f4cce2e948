package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	apihttp "github.com/Paintersrp/corral/internal/api/http"
	"github.com/Paintersrp/corral/internal/config"
	"github.com/Paintersrp/corral/internal/engine"
	"github.com/Paintersrp/corral/internal/procdir"
	"github.com/Paintersrp/corral/internal/spawn"
)

func TestServeCommandReportsAPIServerError(t *testing.T) {
	path := writeConfigFile(t, configManifest(`version: "1"`))
	stubProcessTable(t, newFakeProcessTable())

	startErr := errors.New("serve failure")
	origNewAPIServer := newAPIServer
	t.Cleanup(func() {
		newAPIServer = origNewAPIServer
	})
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = &failingListener{addr: staticAddr("127.0.0.1:0"), err: startErr}
		return apihttp.NewServer(cfg)
	}

	runCtx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()
	stdout, stderr, err := runServe(runCtx, path)
	if !errors.Is(err, startErr) {
		t.Fatalf("expected serve error %v, got %v (stderr: %s)", startErr, err, stderr)
	}
	if strings.Contains(stdout, "Control API listening") {
		t.Fatalf("unexpected readiness output: %s", stdout)
	}
}

func TestServeLaunchesAndDrainsOverAPI(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "worker.bin")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write executable: %v", err)
	}
	path := writeConfigFile(t, configManifest(
		`version: "1"`,
		"products:",
		"  acme:",
		"    apps:",
		"      worker:",
		fmt.Sprintf("        path: %s", exe),
		"        level: 2",
		"supervisor:",
		"  checkInterval: 20ms",
		"  drainPoll: 5ms",
		"  bootDelay: 1h",
		"logging:",
		"  level: error",
	))

	t.Setenv(config.DefaultTokenEnv, "serve-token")
	table := newFakeProcessTable()
	stubProcessTable(t, table)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	origNewAPIServer := newAPIServer
	t.Cleanup(func() {
		newAPIServer = origNewAPIServer
	})
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = listener
		return apihttp.NewServer(cfg)
	}

	type result struct {
		stdout, stderr string
		err            error
	}
	done := make(chan result, 1)
	go func() {
		stdout, stderr, err := runServe(stdcontext.Background(), path)
		done <- result{stdout, stderr, err}
	}()

	client := apihttp.NewClient(listener.Addr().String(), "serve-token")
	waitForStatus(t, client)

	ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 5*time.Second)
	defer cancel()

	outcome, err := client.Launch(ctx, "acme", "worker", "--verbose")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if outcome != engine.Okay {
		t.Fatalf("expected launch okay, got %s", outcome)
	}
	if outcome, _ := client.Query(ctx, "acme", "worker"); outcome != engine.Okay {
		t.Fatalf("expected worker to be running, got %s", outcome)
	}
	if outcome, _ := client.Launch(ctx, "acme", "missing", ""); outcome != engine.NoApplication {
		t.Fatalf("expected NO_APPLICATION for an unknown app, got %s", outcome)
	}

	report, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(report.Active) != 1 || report.Active[0].Level != 2 {
		t.Fatalf("expected one tracked worker at level 2, got %+v", report.Active)
	}

	anonymous := apihttp.NewClient(listener.Addr().String(), "")
	if _, err := anonymous.Shutdown(ctx); err == nil {
		t.Fatalf("expected shutdown without the control token to fail")
	}
	if _, err := client.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("serve returned error: %v (stderr: %s)", res.err, res.stderr)
		}
		if !strings.Contains(res.stdout, "All applications stopped.") {
			t.Fatalf("expected drain confirmation, got: %s", res.stdout)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not return after shutdown")
	}

	if got := table.requested(); len(got) != 1 || got[0] != "worker.bin" {
		t.Fatalf("expected one shutdown request for worker.bin, got %v", got)
	}
	if table.count() != 0 {
		t.Fatalf("expected every process to exit")
	}
}

func runServe(ctx stdcontext.Context, path string) (string, string, error) {
	configPath := path
	var addr, token string
	c := &context{configPath: &configPath, apiAddr: &addr, token: &token}

	cmd := newServeCmd(c)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})
	cmd.SetContext(ctx)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitForStatus(t *testing.T, client *apihttp.Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 500*time.Millisecond)
		_, err := client.Status(ctx)
		cancel()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("control API did not become ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func stubProcessTable(t *testing.T, table *fakeProcessTable) {
	t.Helper()
	origDir, origSpawner, origSignaller := newDirectory, newSpawner, newSignaller
	t.Cleanup(func() {
		newDirectory, newSpawner, newSignaller = origDir, origSpawner, origSignaller
	})
	newDirectory = func() procdir.Directory { return table }
	newSpawner = func() spawn.Spawner { return table }
	newSignaller = func(procdir.Directory, string) (engine.Signaller, error) { return table, nil }
}

// fakeProcessTable stands in for the host process table. Spawned programs
// keep running until they are killed or asked to shut down.
type fakeProcessTable struct {
	mu       sync.Mutex
	nextPID  int
	procs    map[int]string
	requests []string
}

func newFakeProcessTable() *fakeProcessTable {
	return &fakeProcessTable{nextPID: 5000, procs: map[int]string{}}
}

func (f *fakeProcessTable) List(stdcontext.Context) ([]procdir.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]procdir.Entry, 0, len(f.procs))
	for pid, path := range f.procs {
		entries = append(entries, procdir.Entry{PID: pid, PPID: 1, Path: path, Threads: 1})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	return entries, nil
}

func (f *fakeProcessTable) FindByName(snapshot []procdir.Entry, name string) procdir.PIDSet {
	return procdir.Match(snapshot, name)
}

func (f *fakeProcessTable) Kill(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
	return true
}

func (f *fakeProcessTable) Spawn(_ stdcontext.Context, path, _ string, _ spawn.Flags) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	f.procs[f.nextPID] = path
	return f.nextPID, nil
}

func (f *fakeProcessTable) RequestShutdown(_ stdcontext.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, name)
	for pid, path := range f.procs {
		if procdir.Basename(path) == name {
			delete(f.procs, pid)
		}
	}
	return true
}

func (f *fakeProcessTable) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeProcessTable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

type failingListener struct {
	addr net.Addr
	err  error
}

func (l *failingListener) Accept() (net.Conn, error) {
	return nil, l.err
}

func (l *failingListener) Close() error {
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return l.addr
}

type staticAddr string

func (a staticAddr) Network() string { return "tcp" }

func (a staticAddr) String() string { return string(a) }
