package engine

import (
	"context"
)

// ShutdownAll disables launching and stops every tracked process, level by
// level from the highest down to zero. Each level is asked to shut down
// gracefully and the next level starts only once no process is left
// draining. The reaper is stopped when level zero has drained.
//
// ShutdownAll blocks until the drain completes or ctx is done, in which case
// the context error is returned and the remaining levels are left running.
// It is not meant to be called concurrently.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.state.launchingDisabled.Store(true)
	m.log.Info("stopping all tracked processes")

	top := max(minDrainLevel, m.active.maxLevel())
	for level := top; level >= 0; level-- {
		m.drainLevel(ctx, level)
		if err := m.awaitDraining(ctx); err != nil {
			m.log.Warn("shutdown interrupted", "level", level, "err", err)
			return err
		}
	}

	m.reaper.stop()
	m.log.Info("all tracked processes stopped")
	sendEvent(m.events, Event{Type: EventTypeDrained, Reason: ReasonShutdown})
	return nil
}

// drainLevel removes the active entries at level and requests a graceful
// stop for each while the active collection stays locked. A failed
// cooperative request falls back to an immediate kill without a draining
// entry.
func (m *Manager) drainLevel(ctx context.Context, level int) {
	m.active.mu.Lock()
	defer m.active.mu.Unlock()

	removed := m.active.filterLocked(func(rec Record) bool {
		return rec.Level != level
	})
	if len(removed) == 0 {
		return
	}
	m.log.Info("draining level", "level", level, "count", len(removed))
	for _, rec := range removed {
		outcome := m.stopProcess(ctx, rec, true)
		if outcome != Okay && outcome != NotRunning {
			m.log.Warn("stop during shutdown failed", "product", rec.Product, "app", rec.App, "pid", rec.PID, "outcome", outcome)
		}
	}
}

func (m *Manager) awaitDraining(ctx context.Context) error {
	for m.draining.len() > 0 {
		m.reaper.reschedule(0)
		if err := m.sleep(ctx, m.drainPoll); err != nil {
			return err
		}
	}
	return nil
}
