package cli

import (
	"fmt"
	"io"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/corral/internal/engine"
)

// OutcomeError reports an operation that completed with a failing outcome.
type OutcomeError struct {
	Target  string
	Outcome engine.Outcome
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, e.Outcome)
}

// reportOutcome prints the outcome and converts anything outside ok into an
// *OutcomeError so the process exits non-zero.
func reportOutcome(out io.Writer, target string, outcome engine.Outcome, ok ...engine.Outcome) error {
	fmt.Fprintf(out, "%s: %s\n", target, outcome)
	if outcome == engine.Okay {
		return nil
	}
	for _, allowed := range ok {
		if outcome == allowed {
			return nil
		}
	}
	return &OutcomeError{Target: target, Outcome: outcome}
}

// joinParams rebuilds a parameter string from arguments following "--",
// quoting each so the spawner splits them back unchanged.
func joinParams(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return shellquote.Join(args...)
}

func newLaunchCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch PRODUCT APP [-- PARAMS...]",
		Short: "Launch a configured application",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, app := args[0], args[1]
			outcome, err := ctx.client().Launch(cmd.Context(), product, app, joinParams(args[2:]))
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), product+"/"+app, outcome)
		},
	}
	return cmd
}

func newStopCmd(ctx *context) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop PRODUCT APP",
		Short: "Stop every running instance of an application",
		Long: "Stop asks every instance of the application to shut down and returns " +
			"once the request is delivered; the supervisor force-kills instances that " +
			"outlive the grace period. --force kills immediately.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, app := args[0], args[1]
			outcome, err := ctx.client().Stop(cmd.Context(), product, app, force)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), product+"/"+app, outcome, engine.NotRunning)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Kill instances immediately instead of asking them to exit")
	return cmd
}

func newQueryCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query PRODUCT APP",
		Short: "Report whether an application is running",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, app := args[0], args[1]
			outcome, err := ctx.client().Query(cmd.Context(), product, app)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), product+"/"+app, outcome, engine.NotRunning)
		},
	}
	return cmd
}
