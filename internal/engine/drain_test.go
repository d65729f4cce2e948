package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShutdownAllDrainsHighestLevelFirst(t *testing.T) {
	h := newHarness(t)
	h.spawnAs(map[string]int{"server": 100, "worker": 200, "db": 300}, true)
	ctx := context.Background()
	for _, app := range []string{"db", "server", "worker"} {
		if got := h.manager.Launch(ctx, "acme", app, ""); got != Okay {
			t.Fatalf("launch %s: %s", app, got)
		}
	}

	type request struct {
		name     string
		draining int
		alive    []bool
	}
	var (
		mu       sync.Mutex
		requests []request
		exiting  []int
	)
	pidOf := map[string]int{"server": 100, "worker": 200, "db": 300}
	h.signaller.onRequest = func(name string) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, request{
			name:     name,
			draining: h.manager.draining.len(),
			alive:    []bool{h.dir.running(100), h.dir.running(200), h.dir.running(300)},
		})
		exiting = append(exiting, pidOf[name])
	}

	// Each poll lets one requested process exit and runs a reaper cycle, so
	// a level drains only after several polls.
	polls := 0
	h.manager.sleep = func(ctx context.Context, d time.Duration) error {
		polls++
		mu.Lock()
		if polls%3 == 0 && len(exiting) > 0 {
			h.dir.remove(exiting[0])
			exiting = exiting[1:]
		}
		mu.Unlock()
		h.manager.cycle(ctx)
		return nil
	}

	if err := h.manager.ShutdownAll(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(requests) != 3 {
		t.Fatalf("expected three shutdown requests, got %+v", requests)
	}
	order := []string{requests[0].name, requests[1].name, requests[2].name}
	if order[0] != "server" || order[1] != "worker" || order[2] != "db" {
		t.Fatalf("expected level order server, worker, db; got %v", order)
	}
	for i, req := range requests {
		if req.draining != 0 {
			t.Fatalf("request %d (%s) issued while %d entries were still draining", i, req.name, req.draining)
		}
	}
	if requests[1].alive[0] {
		t.Fatalf("worker was asked to stop before server exited")
	}
	if requests[2].alive[1] {
		t.Fatalf("db was asked to stop before worker exited")
	}

	if len(h.manager.Active()) != 0 || len(h.manager.Draining()) != 0 {
		t.Fatalf("expected both collections empty after shutdown")
	}
	if !h.manager.LaunchingDisabled() {
		t.Fatalf("shutdown must disable launching")
	}
	if got := h.manager.Launch(ctx, "acme", "server", ""); got != LaunchFailed {
		t.Fatalf("launch after shutdown: expected LAUNCH_FAILED, got %s", got)
	}
	if len(h.dir.killedPIDs()) != 0 {
		t.Fatalf("cooperative drain should not need forced kills")
	}
}

func TestShutdownAllKillsWhenShutdownRequestFails(t *testing.T) {
	h := newHarness(t)
	h.spawnAs(map[string]int{"server": 100, "db": 300}, true)
	ctx := context.Background()
	h.manager.Launch(ctx, "acme", "server", "")
	h.manager.Launch(ctx, "acme", "db", "")
	h.signaller.result = false
	h.dir.killFails[300] = true

	if err := h.manager.ShutdownAll(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	killed := h.dir.killedPIDs()
	if len(killed) != 2 || killed[0] != 100 || killed[1] != 300 {
		t.Fatalf("expected direct kills in level order, got %v", killed)
	}
	if len(h.manager.Draining()) != 0 {
		t.Fatalf("direct kills must bypass the draining collection")
	}
}

func TestShutdownAllDrainsLevelsAboveHundred(t *testing.T) {
	h := newHarness(t)
	h.manager.active.add(Record{Product: "acme", App: "server", Process: "server", PID: 100, Level: 250, Since: h.clock.Now()})
	h.dir.add(100, h.path("server"))
	h.manager.sleep = func(ctx context.Context, d time.Duration) error {
		h.dir.remove(100)
		h.manager.cycle(ctx)
		return nil
	}

	if err := h.manager.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if reqs := h.signaller.requested(); len(reqs) != 1 || reqs[0] != "server" {
		t.Fatalf("expected the level 250 app to be stopped, got %v", reqs)
	}
	if len(h.manager.Active()) != 0 {
		t.Fatalf("active collection should be empty")
	}
}

func TestShutdownAllHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.spawnAs(map[string]int{"server": 100}, true)
	h.manager.Launch(context.Background(), "acme", "server", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.manager.ShutdownAll(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(h.manager.Draining()) != 1 {
		t.Fatalf("unfinished drain should leave the entry draining")
	}
}

func TestShutdownAllStopsReaper(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.CheckInterval = 5 * time.Millisecond })
	ctx := context.Background()
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.manager.ShutdownAll(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-h.manager.reaper.done:
	default:
		t.Fatalf("reaper should have stopped")
	}
	var drained bool
	for _, ev := range drainEvents(h.events) {
		if ev.Type == EventTypeDrained {
			drained = true
		}
	}
	if !drained {
		t.Fatalf("expected drained event")
	}
}
