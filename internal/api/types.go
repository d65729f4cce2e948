package api

import (
	stdcontext "context"
	"errors"
	"time"

	"github.com/Paintersrp/corral/internal/engine"
)

var (
	ErrShutdownInProgress = errors.New("shutdown in progress")
	ErrInvalidPath        = errors.New("invalid application path")
	ErrUnauthorized       = errors.New("control token rejected")
)

// TokenHeader carries the control token for the launching and shutdown
// endpoints.
const TokenHeader = "X-Corral-Token"

// OutcomeResponse is returned by every application operation.
type OutcomeResponse struct {
	Product string         `json:"product,omitempty"`
	App     string         `json:"app,omitempty"`
	Outcome engine.Outcome `json:"outcome"`
}

// LaunchRequest carries the parameters for a launch.
type LaunchRequest struct {
	Params string `json:"params,omitempty"`
}

// StopRequest selects a forced stop instead of the default graceful one.
type StopRequest struct {
	Force bool `json:"force,omitempty"`
}

// StartupRequest describes a startup entry to persist.
type StartupRequest struct {
	Params  string `json:"params,omitempty"`
	OneShot bool   `json:"oneShot,omitempty"`
}

// ShutdownResponse reports a completed full shutdown.
type ShutdownResponse struct {
	CompletedAt time.Time `json:"completed_at"`
}

// StatusReport is a point-in-time view of the supervisor.
type StatusReport struct {
	GeneratedAt       time.Time       `json:"generated_at"`
	LaunchingDisabled bool            `json:"launching_disabled"`
	BootLaunched      bool            `json:"boot_launched"`
	Active            []engine.Record `json:"active"`
	Draining          []engine.Record `json:"draining"`
	// History holds the most recent lifecycle transitions keyed by
	// "product/app".
	History map[string][]Transition `json:"history,omitempty"`
}

// Transition is one lifecycle event observed for an application.
type Transition struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      engine.EventType `json:"type"`
	PID       int              `json:"pid,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Controller exposes launch manager operations required by control servers.
type Controller interface {
	Launch(ctx stdcontext.Context, product, app, params string) engine.Outcome
	Stop(ctx stdcontext.Context, product, app string, graceful bool) engine.Outcome
	Query(ctx stdcontext.Context, product, app string) engine.Outcome
	ScheduleAtStartup(product, app, params string, oneShot bool) engine.Outcome
	RemoveFromStartup(product, app string) engine.Outcome
	DisableLaunching(token string) engine.Outcome
	EnableLaunching(token string) engine.Outcome
	// Shutdown drains every tracked process once token is accepted.
	Shutdown(ctx stdcontext.Context, token string) error
	Status(ctx stdcontext.Context) (*StatusReport, error)
}
