package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Paintersrp/corral/internal/metrics"
	"github.com/Paintersrp/corral/internal/procdir"
)

// reaper runs the periodic reconciliation of the tracked collections against
// the live process table.
type reaper struct {
	m *Manager

	wake chan time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newReaper(m *Manager) *reaper {
	return &reaper{m: m, wake: make(chan time.Duration, 1)}
}

func (r *reaper) start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("engine: reaper already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx, r.done)
	return nil
}

func (r *reaper) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// reschedule pulls the next cycle forward to d from now. Only the latest
// request is kept.
func (r *reaper) reschedule(d time.Duration) {
	for {
		select {
		case r.wake <- d:
			return
		default:
		}
		select {
		case <-r.wake:
		default:
		}
	}
}

func (r *reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	first := r.m.checkInterval
	if wait := r.m.state.bootAt.Sub(r.m.now()); wait < first {
		first = max(wait, 0)
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.wake:
			timer.Reset(d)
		case <-timer.C:
			next := r.m.cycle(ctx)
			if ctx.Err() != nil {
				return
			}
			timer.Reset(next)
		}
	}
}

// cycle runs one reaper pass and returns the delay before the next one.
func (m *Manager) cycle(ctx context.Context) time.Duration {
	started := time.Now()
	defer func() { metrics.ObserveReaperCycle(time.Since(started)) }()

	next := m.checkInterval
	if !m.state.bootLaunched.Load() {
		if !m.now().Before(m.state.bootAt) {
			m.launchStartupApps(ctx)
			m.state.bootLaunched.Store(true)
		} else {
			next = min(next, bootPendingInterval)
		}
	}

	m.reconcile(ctx)
	return next
}

// launchStartupApps launches every configured startup entry once, dropping
// one-shot entries afterwards.
func (m *Manager) launchStartupApps(ctx context.Context) {
	m.configMu.Lock()
	entries := m.cfg.StartupEntries("")
	m.configMu.Unlock()

	m.log.Info("launching startup applications", "count", len(entries))
	for _, entry := range entries {
		outcome := m.Launch(ctx, entry.Product, entry.App, entry.Params)
		m.log.Info("startup launch", "product", entry.Product, "app", entry.App, "oneShot", entry.OneShot, "outcome", outcome)
		ev := Event{Product: entry.Product, App: entry.App, Type: EventTypeBoot, Outcome: outcome, Reason: ReasonStartup}
		if entry.OneShot {
			ev.Reason = ReasonOneShot
			if removed := m.RemoveFromStartup(entry.Product, entry.App); removed != Okay {
				m.log.Warn("failed to remove one-shot startup entry", "product", entry.Product, "app", entry.App, "outcome", removed)
			} else {
				ev.Message = "removed from the startup list"
			}
		}
		sendEvent(m.events, ev)
	}
}

// snapshotOnce fetches the process table lazily and at most once per cycle so
// both collections are judged against the same view.
type snapshotOnce struct {
	dir     procdir.Directory
	fetched bool
	entries []procdir.Entry
	err     error
	matches map[string]procdir.PIDSet
}

func (s *snapshotOnce) load(ctx context.Context) error {
	if !s.fetched {
		s.fetched = true
		s.entries, s.err = s.dir.List(ctx)
	}
	return s.err
}

func (s *snapshotOnce) find(process string) procdir.PIDSet {
	if pids, ok := s.matches[process]; ok {
		return pids
	}
	if s.matches == nil {
		s.matches = map[string]procdir.PIDSet{}
	}
	pids := s.dir.FindByName(s.entries, process)
	s.matches[process] = pids
	return pids
}

// reconcile prunes draining entries whose process exited, escalates the ones
// past the grace period, then prunes exited active entries. A failed process
// query skips the rest of the cycle.
func (m *Manager) reconcile(ctx context.Context) {
	snap := &snapshotOnce{dir: m.dir}
	if !m.reconcileDraining(ctx, snap) {
		return
	}
	m.reconcileActive(ctx, snap)
}

func (m *Manager) reconcileDraining(ctx context.Context, snap *snapshotOnce) bool {
	m.draining.mu.Lock()
	defer m.draining.mu.Unlock()

	if len(m.draining.records) == 0 {
		return true
	}
	if err := snap.load(ctx); err != nil {
		m.log.Error("failed to query processes; skipping reaper cycle", "err", err)
		return false
	}

	now := m.now()
	exited := 0
	m.draining.filterLocked(func(rec Record) bool {
		if !snap.find(rec.Process).Has(rec.PID) {
			exited++
			m.log.Info("process exited after shutdown request", "product", rec.Product, "app", rec.App, "pid", rec.PID)
			sendEvent(m.events, Event{Product: rec.Product, App: rec.App, PID: rec.PID, Level: rec.Level, Type: EventTypeExited, Reason: ReasonCooperative})
			return false
		}
		if now.Sub(rec.Since) > m.gracePeriod {
			m.log.Warn("process unresponsive to shutdown request; killing", "product", rec.Product, "app", rec.App, "pid", rec.PID, "grace", m.gracePeriod)
			ev := Event{Product: rec.Product, App: rec.App, PID: rec.PID, Level: rec.Level, Type: EventTypeEscalated, Reason: ReasonGraceExpired}
			if !m.dir.Kill(rec.PID) {
				m.log.Error("forced kill after grace period failed", "product", rec.Product, "app", rec.App, "pid", rec.PID)
				ev.Outcome = AccessDenied
			}
			metrics.IncrementEscalation()
			sendEvent(m.events, ev)
			return false
		}
		return true
	})
	metrics.AddReaped(collectionDraining, exited)
	return true
}

func (m *Manager) reconcileActive(ctx context.Context, snap *snapshotOnce) {
	m.active.mu.Lock()
	defer m.active.mu.Unlock()

	if len(m.active.records) == 0 {
		return
	}
	if err := snap.load(ctx); err != nil {
		m.log.Error("failed to query processes; skipping reaper cycle", "err", err)
		return
	}

	removed := m.active.filterLocked(func(rec Record) bool {
		return snap.find(rec.Process).Has(rec.PID)
	})
	for _, rec := range removed {
		m.log.Info("tracked process exited", "product", rec.Product, "app", rec.App, "pid", rec.PID)
		sendEvent(m.events, Event{Product: rec.Product, App: rec.App, PID: rec.PID, Level: rec.Level, Type: EventTypeExited, Reason: ReasonSelfExit})
	}
	metrics.AddReaped(collectionActive, len(removed))
}
