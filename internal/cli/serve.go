package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/corral/internal/api"
	apihttp "github.com/Paintersrp/corral/internal/api/http"
	"github.com/Paintersrp/corral/internal/cliutil"
	"github.com/Paintersrp/corral/internal/config"
	"github.com/Paintersrp/corral/internal/engine"
	"github.com/Paintersrp/corral/internal/logging"
	"github.com/Paintersrp/corral/internal/procdir"
	"github.com/Paintersrp/corral/internal/spawn"
)

const eventBuffer = 256

var (
	newAPIServer = apihttp.NewServer
	newDirectory = func() procdir.Directory { return procdir.NewSystem() }
	newSpawner   = func() spawn.Spawner { return spawn.NewExec() }
	newSignaller = func(dir procdir.Directory, signal string) (engine.Signaller, error) {
		s, err := procdir.NewSignaller(dir, signal)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
)

type serveOptions struct {
	addr         string
	eventsJSON   bool
	drainTimeout time.Duration
}

func newServeCmd(ctx *context) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor with its HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			applyEnvOverrides(doc)
			if *ctx.apiAddr != "" {
				doc.API.Addr = *ctx.apiAddr
			}
			opts.addr = doc.API.Addr

			logger := logging.New(doc.Logging, buildVersion())
			store := config.NewStore(doc, *ctx.configPath, config.WithPersistErrorHandler(func(err error) {
				logger.Error("persist configuration", "path", *ctx.configPath, "error", err)
			}))

			events := make(chan engine.Event, eventBuffer)
			manager, err := newManager(doc, store, logger, events)
			if err != nil {
				return err
			}
			return serve(cmd, ctx, manager, events, logger, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.eventsJSON, "events-json", false, "Write lifecycle events to stdout as JSON lines")
	cmd.Flags().DurationVar(&opts.drainTimeout, "drain-timeout", 0, "Bound the full shutdown drain (0 waits for every process)")
	return cmd
}

// newManager wires the launch manager to the host process table.
func newManager(doc *config.File, store *config.Store, logger *slog.Logger, events chan<- engine.Event) (*engine.Manager, error) {
	dir := newDirectory()
	signaller, err := newSignaller(dir, doc.Supervisor.ShutdownSignal)
	if err != nil {
		return nil, err
	}
	sup := doc.Supervisor
	return engine.New(engine.Options{
		Config:         store,
		Directory:      dir,
		Spawner:        newSpawner(),
		Signaller:      signaller,
		Logger:         logger,
		Events:         events,
		Redact:         cliutil.RedactSecrets,
		Token:          sup.Token(),
		GagExempt:      sup.GagExempt,
		TrackingExempt: sup.TrackingExempt,
		CheckInterval:  sup.CheckInterval.Duration,
		GracePeriod:    sup.GracePeriod.Duration,
		LaunchWait:     sup.LaunchWait.Duration,
		BootDelay:      sup.BootDelay.Duration,
		DrainPoll:      sup.DrainPoll.Duration,
	})
}

// serve runs the reaper and control API until the command context is
// cancelled or a shutdown is requested over the API, then drains every
// tracked process. Events are consumed until serve returns.
func serve(cmd *cobra.Command, c *context, manager *engine.Manager, events chan engine.Event, logger *slog.Logger, opts serveOptions) error {
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	tracker := c.statusTracker()
	var enc *json.Encoder
	if opts.eventsJSON {
		enc = json.NewEncoder(cmd.OutOrStdout())
	}
	handle := func(evt engine.Event) {
		tracker.Apply(evt)
		cliutil.EncodeLogEvent(enc, cmd.ErrOrStderr(), evt)
	}
	stopPump := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case evt := <-events:
				handle(evt)
			case <-stopPump:
				for {
					select {
					case evt := <-events:
						handle(evt)
					default:
						return
					}
				}
			}
		}
	}()
	// events is never closed: a request still in flight after the API
	// shutdown timeout may yet send on it.
	defer func() {
		manager.Close()
		close(stopPump)
		<-pumpDone
	}()

	// The reaper must outlive a cancelled command context so the final
	// drain can observe exits.
	reaperCtx, cancelReaper := stdcontext.WithCancel(stdcontext.WithoutCancel(runCtx))
	defer cancelReaper()
	if err := manager.Start(reaperCtx); err != nil {
		return err
	}

	control := NewControlAPI(manager, tracker, opts.drainTimeout)
	server, err := newAPIServer(apihttp.Config{Addr: opts.addr, Controller: control, Logger: logger})
	if err != nil {
		return err
	}
	serverCtx, cancelServer := stdcontext.WithCancel(stdcontext.Background())
	defer cancelServer()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()

	readyTimer := time.NewTimer(200 * time.Millisecond)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-readyTimer.C:
		fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())
	case <-runCtx.Done():
	}
	logger.Info("supervisor running", "addr", server.Addr())

	var serverErr error
	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received, draining")
		if err := control.Drain(stdcontext.Background()); errors.Is(err, api.ErrShutdownInProgress) {
			<-control.Done()
		}
	case <-control.Done():
	case serverErr = <-errCh:
		errCh = nil
		logger.Error("control API stopped", "error", serverErr)
		if err := control.Drain(stdcontext.Background()); errors.Is(err, api.ErrShutdownInProgress) {
			<-control.Done()
		}
	}

	cancelServer()
	if errCh != nil {
		if err := <-errCh; err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			serverErr = err
		}
	}

	if err := control.Err(); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return err
	}
	if serverErr != nil {
		return serverErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All applications stopped.")
	return nil
}
