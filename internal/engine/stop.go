package engine

import (
	"context"

	"github.com/Paintersrp/corral/internal/metrics"
	"github.com/Paintersrp/corral/internal/procdir"
)

// Stop ends app's running processes. Tracking-exempt apps always report
// NotRunning.
//
// With graceful set, Stop first asks the application to shut itself down.
// Okay from a graceful request means the request was dispatched, not that
// the process has exited: the reaper removes the draining entry once the
// process is gone, or force kills it after the grace period. When the
// cooperative request cannot be delivered, or graceful is false, every
// matching process is killed immediately; AccessDenied is returned if any
// kill was refused and NotRunning if nothing matched.
func (m *Manager) Stop(ctx context.Context, product, app string, graceful bool) Outcome {
	outcome := m.stop(ctx, product, app, graceful)
	metrics.IncrementStop(graceful, outcome.String())
	return outcome
}

func (m *Manager) stop(ctx context.Context, product, app string, graceful bool) Outcome {
	if m.isTrackingExempt(app) {
		return NotRunning
	}
	path, level, outcome := m.resolve(product, app)
	if outcome != Okay {
		return outcome
	}
	return m.stopProcess(ctx, Record{Product: product, App: app, Process: procdir.Basename(path), Level: level}, graceful)
}

// stopProcess stops every process named target.Process, preferring a
// cooperative request when graceful is set.
func (m *Manager) stopProcess(ctx context.Context, target Record, graceful bool) Outcome {
	if graceful {
		outcome := m.stopGracefully(ctx, target)
		if outcome == Okay {
			return Okay
		}
		m.log.Warn("graceful stop failed; killing", "product", target.Product, "app", target.App, "outcome", outcome)
	}
	return m.forceStop(ctx, target)
}

func (m *Manager) stopGracefully(ctx context.Context, target Record) Outcome {
	logger := m.log.With("product", target.Product, "app", target.App, "process", target.Process)

	if m.draining.hasProcess(target.Process) {
		logger.Debug("graceful stop already in progress")
		return Okay
	}
	if !m.signaller.RequestShutdown(ctx, target.Process) {
		return NoAnchor
	}

	snapshot, err := m.dir.List(ctx)
	if err != nil {
		logger.Error("failed to query processes after shutdown request", "err", err)
		return LaunchFailed
	}
	pids := m.dir.FindByName(snapshot, target.Process)
	if pids.Len() == 0 {
		logger.Info("no running process found; assuming it already exited")
		return Okay
	}

	since := m.now()
	records := make([]Record, 0, pids.Len())
	for _, pid := range pids.Sorted() {
		rec := target
		rec.PID = pid
		rec.Since = since
		records = append(records, rec)
	}
	for _, rec := range m.draining.addNew(records...) {
		logger.Info("waiting for process to exit", "pid", rec.PID, "grace", m.gracePeriod)
		sendEvent(m.events, Event{Product: rec.Product, App: rec.App, PID: rec.PID, Level: rec.Level, Type: EventTypeStopping, Reason: ReasonCooperative})
	}
	return Okay
}

func (m *Manager) forceStop(ctx context.Context, target Record) Outcome {
	logger := m.log.With("product", target.Product, "app", target.App, "process", target.Process)

	snapshot, err := m.dir.List(ctx)
	if err != nil {
		logger.Error("failed to query processes", "err", err)
		return LaunchFailed
	}
	pids := m.dir.FindByName(snapshot, target.Process)
	if pids.Len() == 0 {
		logger.Info("process was not running")
		return NotRunning
	}

	failed := false
	for _, pid := range pids.Sorted() {
		if !m.dir.Kill(pid) {
			logger.Warn("failed to kill process", "pid", pid)
			failed = true
			continue
		}
		logger.Info("killed process", "pid", pid)
		sendEvent(m.events, Event{Product: target.Product, App: target.App, PID: pid, Level: target.Level, Type: EventTypeKilled, Reason: ReasonForced})
	}
	if failed {
		return AccessDenied
	}
	return Okay
}
