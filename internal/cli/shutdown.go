package cli

import (
	stdcontext "context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newShutdownCmd(ctx *context) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop every tracked application, highest level first, and exit the supervisor (requires the control token)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = stdcontext.Background()
			}
			if timeout > 0 {
				var cancel stdcontext.CancelFunc
				runCtx, cancel = stdcontext.WithTimeout(runCtx, timeout)
				defer cancel()
			}
			client := ctx.client().WithHTTPClient(&http.Client{})
			resp, err := client.Shutdown(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shutdown completed at %s\n", resp.CompletedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop waiting for the drain after this long (the drain continues)")
	return cmd
}
