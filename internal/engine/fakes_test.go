package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/corral/internal/config"
	"github.com/Paintersrp/corral/internal/procdir"
	"github.com/Paintersrp/corral/internal/spawn"
)

type fakeDirectory struct {
	mu        sync.Mutex
	procs     map[int]string
	listErr   error
	listCalls int
	killed    []int
	killFails map[int]bool
	// unkillable processes accept the kill but keep running.
	unkillable map[int]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{procs: map[int]string{}, killFails: map[int]bool{}, unkillable: map[int]bool{}}
}

func (d *fakeDirectory) List(ctx context.Context) ([]procdir.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	if d.listErr != nil {
		return nil, &procdir.QueryError{Op: "enumerate", Err: d.listErr}
	}
	entries := make([]procdir.Entry, 0, len(d.procs))
	for pid, path := range d.procs {
		entries = append(entries, procdir.Entry{PID: pid, PPID: 1, Path: path, Threads: 1})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	return entries, nil
}

func (d *fakeDirectory) FindByName(snapshot []procdir.Entry, name string) procdir.PIDSet {
	return procdir.Match(snapshot, name)
}

func (d *fakeDirectory) Kill(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed = append(d.killed, pid)
	if d.killFails[pid] {
		return false
	}
	if !d.unkillable[pid] {
		delete(d.procs, pid)
	}
	return true
}

func (d *fakeDirectory) add(pid int, path string) {
	d.mu.Lock()
	d.procs[pid] = path
	d.mu.Unlock()
}

func (d *fakeDirectory) remove(pid int) {
	d.mu.Lock()
	delete(d.procs, pid)
	d.mu.Unlock()
}

func (d *fakeDirectory) running(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.procs[pid]
	return ok
}

func (d *fakeDirectory) setListErr(err error) {
	d.mu.Lock()
	d.listErr = err
	d.mu.Unlock()
}

func (d *fakeDirectory) killedPIDs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.killed...)
}

func (d *fakeDirectory) lists() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listCalls
}

type spawnCall struct {
	path   string
	params string
	flags  spawn.Flags
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	// spawn decides the result of each call; nil reports pid 0.
	spawn func(path, params string) (int, error)
}

func (s *fakeSpawner) Spawn(ctx context.Context, path, params string, flags spawn.Flags) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, spawnCall{path: path, params: params, flags: flags})
	fn := s.spawn
	s.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn(path, params)
}

func (s *fakeSpawner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeSignaller struct {
	mu        sync.Mutex
	requests  []string
	result    bool
	onRequest func(name string)
}

func (s *fakeSignaller) RequestShutdown(ctx context.Context, name string) bool {
	s.mu.Lock()
	s.requests = append(s.requests, name)
	result, hook := s.result, s.onRequest
	s.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return result
}

func (s *fakeSignaller) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	manager   *Manager
	store     *config.Store
	dir       *fakeDirectory
	spawner   *fakeSpawner
	signaller *fakeSignaller
	clock     *fakeClock
	events    chan Event
	bin       string
}

const testToken = "let-me-in"

// newHarness builds a manager over an in-memory configuration with three
// executables at levels 5, 3 and 0.
func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	bin := t.TempDir()
	for _, name := range []string{"server", "worker", "db", "updater"} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatalf("write executable: %v", err)
		}
	}
	doc := &config.File{
		Products: map[string]*config.Product{
			"acme": {Apps: map[string]*config.App{
				"server":  {Path: filepath.Join(bin, "server"), Level: 5},
				"worker":  {Path: filepath.Join(bin, "worker"), Level: 3},
				"db":      {Path: filepath.Join(bin, "db"), Level: 0},
				"updater": {Path: filepath.Join(bin, "updater"), Level: 1},
				"ghost":   {Path: filepath.Join(bin, "ghost"), Level: 1},
			}},
		},
	}
	doc.ApplyDefaults()

	h := &harness{
		store:     config.NewStore(doc, ""),
		dir:       newFakeDirectory(),
		spawner:   &fakeSpawner{},
		signaller: &fakeSignaller{result: true},
		clock:     &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		events:    make(chan Event, 256),
		bin:       bin,
	}
	opts := Options{
		Config:         h.store,
		Directory:      h.dir,
		Spawner:        h.spawner,
		Signaller:      h.signaller,
		Events:         h.events,
		Token:          testToken,
		TrackingExempt: []string{"updater"},
		LaunchWait:     30 * time.Millisecond,
		GracePeriod:    90 * time.Second,
		DrainPoll:      time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	m.now = h.clock.Now
	m.state.bootAt = h.clock.Now().Add(2 * time.Second)
	h.manager = m
	return h
}

// spawnAs makes the fake spawner start a process with the given pid for
// every launch, reporting reported as the pid to the manager.
func (h *harness) spawnAs(pids map[string]int, report bool) {
	h.spawner.spawn = func(path, params string) (int, error) {
		pid := pids[filepath.Base(path)]
		h.dir.add(pid, path)
		if report {
			return pid, nil
		}
		return 0, nil
	}
}

func (h *harness) path(app string) string {
	return filepath.Join(h.bin, app)
}

func drainEvents(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
