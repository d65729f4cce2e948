package cli

import (
	stdcontext "context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/corral/internal/api"
	"github.com/Paintersrp/corral/internal/engine"
)

const defaultHistoryDepth = 10

// ControlAPI exposes launch manager operations for the HTTP control plane.
type ControlAPI struct {
	manager      *engine.Manager
	tracker      *statusTracker
	drainTimeout time.Duration

	shuttingDown atomic.Bool
	doneOnce     sync.Once
	done         chan struct{}
	drainErr     error
}

// NewControlAPI wraps manager. A full shutdown is bounded by drainTimeout when
// it is positive.
func NewControlAPI(manager *engine.Manager, tracker *statusTracker, drainTimeout time.Duration) *ControlAPI {
	if manager == nil {
		return nil
	}
	return &ControlAPI{
		manager:      manager,
		tracker:      tracker,
		drainTimeout: drainTimeout,
		done:         make(chan struct{}),
	}
}

func (apiCtrl *ControlAPI) Launch(ctx stdcontext.Context, product, app, params string) engine.Outcome {
	return apiCtrl.manager.Launch(ctx, product, app, params)
}

func (apiCtrl *ControlAPI) Stop(ctx stdcontext.Context, product, app string, graceful bool) engine.Outcome {
	return apiCtrl.manager.Stop(ctx, product, app, graceful)
}

func (apiCtrl *ControlAPI) Query(ctx stdcontext.Context, product, app string) engine.Outcome {
	return apiCtrl.manager.Query(ctx, product, app)
}

func (apiCtrl *ControlAPI) ScheduleAtStartup(product, app, params string, oneShot bool) engine.Outcome {
	return apiCtrl.manager.ScheduleAtStartup(product, app, params, oneShot)
}

func (apiCtrl *ControlAPI) RemoveFromStartup(product, app string) engine.Outcome {
	return apiCtrl.manager.RemoveFromStartup(product, app)
}

func (apiCtrl *ControlAPI) DisableLaunching(token string) engine.Outcome {
	return apiCtrl.manager.DisableLaunching(token)
}

func (apiCtrl *ControlAPI) EnableLaunching(token string) engine.Outcome {
	return apiCtrl.manager.EnableLaunching(token)
}

// Shutdown drains every tracked process on behalf of a remote caller holding
// the control token.
func (apiCtrl *ControlAPI) Shutdown(ctx stdcontext.Context, token string) error {
	if !apiCtrl.manager.Authorized(token) {
		return api.ErrUnauthorized
	}
	return apiCtrl.Drain(ctx)
}

// Drain stops every tracked process. Only the first call drains; later calls
// report api.ErrShutdownInProgress. The drain is detached from ctx so a
// disconnecting client does not abort it.
func (apiCtrl *ControlAPI) Drain(ctx stdcontext.Context) error {
	if !apiCtrl.shuttingDown.CompareAndSwap(false, true) {
		return api.ErrShutdownInProgress
	}
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	drainCtx := stdcontext.WithoutCancel(ctx)
	if apiCtrl.drainTimeout > 0 {
		var cancel stdcontext.CancelFunc
		drainCtx, cancel = stdcontext.WithTimeout(drainCtx, apiCtrl.drainTimeout)
		defer cancel()
	}
	err := apiCtrl.manager.ShutdownAll(drainCtx)
	if err != nil {
		err = fmt.Errorf("drain: %w", err)
	}
	apiCtrl.drainErr = err
	apiCtrl.doneOnce.Do(func() { close(apiCtrl.done) })
	return err
}

// Done is closed once a full shutdown has finished.
func (apiCtrl *ControlAPI) Done() <-chan struct{} {
	return apiCtrl.done
}

// Err reports the outcome of a finished shutdown.
func (apiCtrl *ControlAPI) Err() error {
	select {
	case <-apiCtrl.done:
		return apiCtrl.drainErr
	default:
		return nil
	}
}

// Status returns the current supervisor snapshot with recent history.
func (apiCtrl *ControlAPI) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	status := apiCtrl.manager.Status()
	report := &api.StatusReport{
		GeneratedAt:       time.Now(),
		LaunchingDisabled: status.LaunchingDisabled,
		BootLaunched:      status.BootLaunched,
		Active:            status.Active,
		Draining:          status.Draining,
	}
	if apiCtrl.tracker != nil {
		names := apiCtrl.tracker.Names()
		if len(names) > 0 {
			report.History = make(map[string][]api.Transition, len(names))
			for _, name := range names {
				report.History[name] = apiCtrl.tracker.History(name, defaultHistoryDepth)
			}
		}
	}
	return report, nil
}

// Ensure interface compliance at compile time.
var _ api.Controller = (*ControlAPI)(nil)
