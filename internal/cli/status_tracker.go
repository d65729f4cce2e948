package cli

import (
	"sort"
	"sync"
	"time"

	"github.com/Paintersrp/corral/internal/api"
	"github.com/Paintersrp/corral/internal/cliutil"
	"github.com/Paintersrp/corral/internal/engine"
)

const defaultHistorySize = 32

// appStatus captures lifecycle state for an application observed via events.
type appStatus struct {
	key       string
	firstSeen time.Time
	lastEvent time.Time
	state     engine.EventType
	pids      map[int]struct{}
	launches  int
	message   string
	history   []api.Transition
}

// statusTracker maintains in-memory lifecycle history for applications based
// on launch manager events.
type statusTracker struct {
	mu          sync.RWMutex
	apps        map[string]*appStatus
	historySize int
}

// StatusTrackerOption customises a statusTracker.
type StatusTrackerOption func(*statusTracker)

// WithHistorySize bounds the transitions retained per application.
func WithHistorySize(size int) StatusTrackerOption {
	return func(t *statusTracker) {
		if size > 0 {
			t.historySize = size
		}
	}
}

func newStatusTracker(opts ...StatusTrackerOption) *statusTracker {
	t := &statusTracker{apps: make(map[string]*appStatus), historySize: defaultHistorySize}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func appKey(product, app string) string {
	return product + "/" + app
}

// Apply updates the tracker based on the supplied event. Events without an
// application, such as boot and drain notices, are ignored.
func (t *statusTracker) Apply(evt engine.Event) {
	if evt.App == "" {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := appKey(evt.Product, evt.App)
	state := t.apps[key]
	if state == nil {
		state = &appStatus{key: key, firstSeen: evt.Timestamp, pids: make(map[int]struct{})}
		t.apps[key] = state
	}
	if evt.Timestamp.After(state.lastEvent) {
		state.lastEvent = evt.Timestamp
	}

	switch evt.Type {
	case engine.EventTypeLaunched:
		state.launches++
		if evt.PID > 0 {
			state.pids[evt.PID] = struct{}{}
		}
	case engine.EventTypeExited, engine.EventTypeKilled, engine.EventTypeEscalated:
		delete(state.pids, evt.PID)
	}
	state.state = evt.Type

	message := evt.Message
	if message == "" && evt.Err != nil {
		message = evt.Err.Error()
	}
	state.message = cliutil.RedactSecrets(message)

	state.history = append(state.history, api.Transition{
		Timestamp: evt.Timestamp,
		Type:      evt.Type,
		PID:       evt.PID,
		Reason:    evt.Reason,
		Message:   state.message,
	})
	if len(state.history) > t.historySize {
		state.history = state.history[len(state.history)-t.historySize:]
	}
}

// AppStatus captures a snapshot of an application for presentation.
type AppStatus struct {
	Key       string
	FirstSeen time.Time
	LastEvent time.Time
	State     engine.EventType
	Running   int
	Launches  int
	Message   string
}

// Snapshot returns copies of the tracked state keyed by "product/app".
func (t *statusTracker) Snapshot() map[string]AppStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]AppStatus, len(t.apps))
	for key, state := range t.apps {
		snapshot[key] = AppStatus{
			Key:       state.key,
			FirstSeen: state.firstSeen,
			LastEvent: state.lastEvent,
			State:     state.state,
			Running:   len(state.pids),
			Launches:  state.launches,
			Message:   state.message,
		}
	}
	return snapshot
}

// History returns up to limit recent transitions for key, oldest first.
func (t *statusTracker) History(key string, limit int) []api.Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := t.apps[key]
	if state == nil || len(state.history) == 0 {
		return nil
	}
	history := state.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]api.Transition(nil), history...)
}

// Names returns the known application keys sorted alphabetically.
func (t *statusTracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.apps))
	for name := range t.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
