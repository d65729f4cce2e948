package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/corral/internal/config"
	"github.com/Paintersrp/corral/internal/metrics"
	"github.com/Paintersrp/corral/internal/procdir"
	"github.com/Paintersrp/corral/internal/spawn"
)

const (
	defaultCheckInterval = 4 * time.Second
	defaultGracePeriod   = 90 * time.Second
	defaultLaunchWait    = 4 * time.Second
	defaultBootDelay     = 2 * time.Second
	defaultDrainPoll     = 40 * time.Millisecond
	discoveryPoll        = 10 * time.Millisecond
	bootPendingInterval  = 200 * time.Millisecond

	// minDrainLevel is the lowest level a full shutdown starts from.
	minDrainLevel = 100
)

// Config resolves applications and stores startup entries.
type Config interface {
	Resolve(product, app string) (path string, level int, ok bool)
	ProductExists(product string) bool
	AddStartupEntry(entry config.StartupEntry) bool
	RemoveStartupEntry(product, app string) bool
	StartupEntries(product string) []config.StartupEntry
}

// Signaller asks every process matching name to shut itself down. It reports
// false when the request could not be delivered at all.
type Signaller interface {
	RequestShutdown(ctx context.Context, name string) bool
}

// Options configures a Manager. Zero durations fall back to defaults.
type Options struct {
	Config    Config
	Directory procdir.Directory
	Spawner   spawn.Spawner
	Signaller Signaller

	Logger *slog.Logger
	Events chan<- Event
	// Redact masks secrets in launch parameters before they are logged.
	Redact func(string) string

	// Token gates DisableLaunching, EnableLaunching and remote shutdown. An empty token
	// rejects every request.
	Token          string
	GagExempt      []string
	TrackingExempt []string

	CheckInterval time.Duration
	GracePeriod   time.Duration
	LaunchWait    time.Duration
	BootDelay     time.Duration
	DrainPoll     time.Duration
}

// state holds the supervisor-wide flags owned by a single Manager.
type state struct {
	launchingDisabled atomic.Bool
	bootLaunched      atomic.Bool
	bootAt            time.Time
}

// Manager launches configured applications, tracks the processes it started
// and stops them gracefully or by force.
type Manager struct {
	cfg       Config
	dir       procdir.Directory
	spawner   spawn.Spawner
	signaller Signaller

	log    *slog.Logger
	events chan<- Event
	redact func(string) string
	token  string

	checkInterval time.Duration
	gracePeriod   time.Duration
	launchWait    time.Duration
	drainPoll     time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	configMu sync.Mutex
	active   *ledger
	draining *ledger

	exemptMu       sync.RWMutex
	gagExempt      map[string]struct{}
	trackingExempt map[string]struct{}

	state  state
	reaper *reaper
}

// New constructs a Manager. Config, Directory, Spawner and Signaller are
// required.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("engine: process directory is required")
	}
	if opts.Spawner == nil {
		return nil, errors.New("engine: spawner is required")
	}
	if opts.Signaller == nil {
		return nil, errors.New("engine: signaller is required")
	}

	m := &Manager{
		cfg:            opts.Config,
		dir:            opts.Directory,
		spawner:        opts.Spawner,
		signaller:      opts.Signaller,
		log:            opts.Logger,
		events:         opts.Events,
		redact:         opts.Redact,
		token:          opts.Token,
		checkInterval:  orDefault(opts.CheckInterval, defaultCheckInterval),
		gracePeriod:    orDefault(opts.GracePeriod, defaultGracePeriod),
		launchWait:     orDefault(opts.LaunchWait, defaultLaunchWait),
		drainPoll:      orDefault(opts.DrainPoll, defaultDrainPoll),
		now:            time.Now,
		sleep:          sleepWithContext,
		active:         newLedger(collectionActive),
		draining:       newLedger(collectionDraining),
		gagExempt:      map[string]struct{}{},
		trackingExempt: map[string]struct{}{},
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if m.redact == nil {
		m.redact = func(s string) string { return s }
	}
	for _, app := range opts.GagExempt {
		m.gagExempt[app] = struct{}{}
	}
	for _, app := range opts.TrackingExempt {
		m.trackingExempt[app] = struct{}{}
	}
	m.state.bootAt = m.now().Add(orDefault(opts.BootDelay, defaultBootDelay))
	m.reaper = newReaper(m)
	return m, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start runs the reaper until ctx is cancelled, Close is called or a full
// shutdown completes.
func (m *Manager) Start(ctx context.Context) error {
	return m.reaper.start(ctx)
}

// Close stops the reaper. Tracked processes are left running.
func (m *Manager) Close() {
	m.reaper.stop()
}

// Reschedule asks the reaper to run its next cycle after d.
func (m *Manager) Reschedule(d time.Duration) {
	m.reaper.reschedule(d)
}

// Launch starts app from product with params. A tracked app's pid is
// recorded in the active collection before Launch returns, when it can be
// identified within the launch wait.
func (m *Manager) Launch(ctx context.Context, product, app, params string) Outcome {
	outcome, failure := m.launch(ctx, product, app, params)
	metrics.IncrementLaunch(outcome.String())
	if outcome != Okay {
		sendEvent(m.events, Event{
			Product: product,
			App:     app,
			Type:    EventTypeLaunchFailed,
			Outcome: outcome,
			Reason:  failure.reason,
			Message: failure.message,
			Err:     failure.err,
		})
	}
	return outcome
}

// launchFailure describes why a launch did not succeed.
type launchFailure struct {
	reason  string
	message string
	err     error
}

func (m *Manager) launch(ctx context.Context, product, app, params string) (Outcome, launchFailure) {
	logger := m.log.With("product", product, "app", app)
	logger.Info("launch requested", "params", m.redact(params))

	if m.state.launchingDisabled.Load() && !m.isGagExempt(app) {
		logger.Warn("launch refused; launching is disabled")
		return LaunchFailed, launchFailure{reason: ReasonGagged, message: "launching is disabled"}
	}

	path, level, outcome := m.resolve(product, app)
	if outcome != Okay {
		logger.Warn("launch failed", "outcome", outcome)
		msg := "unknown application " + product + "/" + app
		if outcome == NoProduct {
			msg = "unknown product " + product
		}
		return outcome, launchFailure{message: msg}
	}
	if _, err := os.Stat(path); err != nil {
		logger.Warn("executable not found", "path", path, "err", err)
		return FileNotFound, launchFailure{message: "executable not found: " + path, err: err}
	}

	process := procdir.Basename(path)
	tracked := !m.isTrackingExempt(app)

	// Spawners that report the child's pid need no pre-launch snapshot; the
	// rest are matched by name against it afterwards.
	discover := tracked && !spawn.ReportsPID(m.spawner)
	var baseline procdir.PIDSet
	if discover {
		snapshot, err := m.dir.List(ctx)
		if err != nil {
			logger.Error("failed to query processes before launch", "err", err)
			return LaunchFailed, launchFailure{message: "process query failed", err: err}
		}
		baseline = m.dir.FindByName(snapshot, process)
	}

	pid, err := m.spawner.Spawn(ctx, path, params, spawn.ReturnImmediately|spawn.HideWindow)
	if err != nil {
		outcome := classifySpawnError(err)
		logger.Error("spawn failed", "path", path, "outcome", outcome, "err", err)
		return outcome, launchFailure{message: "spawn failed", err: err}
	}

	if !tracked {
		logger.Info("launched untracked application", "pid", pid)
		sendEvent(m.events, Event{Product: product, App: app, PID: pid, Level: level, Type: EventTypeLaunched, Reason: ReasonUntracked})
		return Okay, launchFailure{}
	}

	pids := []int{pid}
	if pid <= 0 && !discover {
		logger.Warn("spawner reported no pid; not tracking", "process", process)
		sendEvent(m.events, Event{Product: product, App: app, Level: level, Type: EventTypeLaunched, Reason: ReasonUndiscovered})
		return Okay, launchFailure{}
	}
	if pid <= 0 {
		pids = m.discoverPIDs(ctx, process, baseline)
		if len(pids) == 0 {
			logger.Warn("no process found after launch; not tracking", "process", process, "wait", m.launchWait)
			sendEvent(m.events, Event{Product: product, App: app, Level: level, Type: EventTypeLaunched, Reason: ReasonUndiscovered})
			return Okay, launchFailure{}
		}
	}

	since := m.now()
	records := make([]Record, 0, len(pids))
	for _, p := range pids {
		records = append(records, Record{Product: product, App: app, Process: process, PID: p, Level: level, Since: since})
	}
	m.active.add(records...)
	for _, rec := range records {
		logger.Info("tracking process", "pid", rec.PID, "level", level)
		sendEvent(m.events, Event{Product: product, App: app, PID: rec.PID, Level: level, Type: EventTypeLaunched})
	}
	return Okay, launchFailure{}
}

// discoverPIDs polls for processes named process that were absent from
// baseline, giving up after the launch wait.
func (m *Manager) discoverPIDs(ctx context.Context, process string, baseline procdir.PIDSet) []int {
	waitCtx, cancel := context.WithTimeout(ctx, m.launchWait)
	defer cancel()
	for {
		if snapshot, err := m.dir.List(waitCtx); err == nil {
			var fresh []int
			for _, pid := range m.dir.FindByName(snapshot, process).Sorted() {
				if !baseline.Has(pid) {
					fresh = append(fresh, pid)
				}
			}
			if len(fresh) > 0 {
				return fresh
			}
		}
		if err := m.sleep(waitCtx, discoveryPoll); err != nil {
			return nil
		}
	}
}

func classifySpawnError(err error) Outcome {
	switch {
	case errors.Is(err, spawn.ErrNotFound):
		return FileNotFound
	case errors.Is(err, spawn.ErrBadProgram):
		return BadProgram
	default:
		return LaunchFailed
	}
}

// ScheduleAtStartup persists a startup entry for app. Existing is returned
// when one is already present.
func (m *Manager) ScheduleAtStartup(product, app, params string, oneShot bool) Outcome {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	if _, _, outcome := m.resolveLocked(product, app); outcome != Okay {
		return outcome
	}
	if !m.cfg.AddStartupEntry(config.StartupEntry{Product: product, App: app, Params: params, OneShot: oneShot}) {
		return Existing
	}
	m.log.Info("scheduled at startup", "product", product, "app", app, "oneShot", oneShot)
	return Okay
}

// RemoveFromStartup deletes the startup entry for app.
func (m *Manager) RemoveFromStartup(product, app string) Outcome {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	if _, _, outcome := m.resolveLocked(product, app); outcome != Okay {
		return outcome
	}
	if !m.cfg.RemoveStartupEntry(product, app) {
		return NoApplication
	}
	m.log.Info("removed from startup", "product", product, "app", app)
	return Okay
}

// Query reports Okay when app has at least one running process.
func (m *Manager) Query(ctx context.Context, product, app string) Outcome {
	path, _, outcome := m.resolve(product, app)
	if outcome != Okay {
		return outcome
	}
	snapshot, err := m.dir.List(ctx)
	if err != nil {
		m.log.Error("failed to query processes", "product", product, "app", app, "err", err)
		return LaunchFailed
	}
	if m.dir.FindByName(snapshot, procdir.Basename(path)).Len() == 0 {
		return NotRunning
	}
	return Okay
}

// DisableLaunching refuses further launches of apps that are not gag exempt.
// BadProgram is returned when token does not match.
func (m *Manager) DisableLaunching(token string) Outcome {
	if !m.tokenMatches(token) {
		m.log.Warn("rejected request to disable launching")
		return BadProgram
	}
	m.state.launchingDisabled.Store(true)
	m.log.Info("launching disabled")
	sendEvent(m.events, Event{Type: EventTypeGagged})
	return Okay
}

// EnableLaunching lifts a previous DisableLaunching.
func (m *Manager) EnableLaunching(token string) Outcome {
	if !m.tokenMatches(token) {
		m.log.Warn("rejected request to enable launching")
		return BadProgram
	}
	m.state.launchingDisabled.Store(false)
	m.log.Info("launching enabled")
	sendEvent(m.events, Event{Type: EventTypeUngagged})
	return Okay
}

// Authorized reports whether token matches the control token. With no
// control token configured every token is rejected.
func (m *Manager) Authorized(token string) bool {
	return m.tokenMatches(token)
}

func (m *Manager) tokenMatches(token string) bool {
	if m.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

// LaunchingDisabled reports whether launches are currently refused.
func (m *Manager) LaunchingDisabled() bool {
	return m.state.launchingDisabled.Load()
}

// AddGagExemption lets app launch while launching is disabled.
func (m *Manager) AddGagExemption(app string) {
	m.exemptMu.Lock()
	m.gagExempt[app] = struct{}{}
	m.exemptMu.Unlock()
}

// AddTrackingExemption stops app from being tracked or stopped.
func (m *Manager) AddTrackingExemption(app string) {
	m.exemptMu.Lock()
	m.trackingExempt[app] = struct{}{}
	m.exemptMu.Unlock()
}

func (m *Manager) isGagExempt(app string) bool {
	m.exemptMu.RLock()
	defer m.exemptMu.RUnlock()
	_, ok := m.gagExempt[app]
	return ok
}

func (m *Manager) isTrackingExempt(app string) bool {
	m.exemptMu.RLock()
	defer m.exemptMu.RUnlock()
	_, ok := m.trackingExempt[app]
	return ok
}

// Active returns a copy of the processes currently tracked as running.
func (m *Manager) Active() []Record {
	return m.active.snapshot()
}

// Draining returns a copy of the processes waiting to exit after a graceful
// stop request.
func (m *Manager) Draining() []Record {
	return m.draining.snapshot()
}

// Status summarises the manager state.
type Status struct {
	LaunchingDisabled bool     `json:"launchingDisabled"`
	BootLaunched      bool     `json:"bootLaunched"`
	Active            []Record `json:"active"`
	Draining          []Record `json:"draining"`
}

// Status returns a point-in-time view of the manager.
func (m *Manager) Status() Status {
	return Status{
		LaunchingDisabled: m.state.launchingDisabled.Load(),
		BootLaunched:      m.state.bootLaunched.Load(),
		Active:            m.Active(),
		Draining:          m.Draining(),
	}
}

func (m *Manager) resolve(product, app string) (string, int, Outcome) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	return m.resolveLocked(product, app)
}

func (m *Manager) resolveLocked(product, app string) (string, int, Outcome) {
	path, level, ok := m.cfg.Resolve(product, app)
	if ok {
		return path, level, Okay
	}
	if !m.cfg.ProductExists(product) {
		m.log.Warn("unknown product", "product", product)
		return "", 0, NoProduct
	}
	m.log.Warn("unknown application", "product", product, "app", app)
	return "", 0, NoApplication
}
