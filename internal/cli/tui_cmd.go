package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/corral/internal/tui"
)

func newTuiCmd(ctx *context) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive status interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("tui requires an interactive terminal")
			}

			client := ctx.client()
			ui := tui.New(client, tui.WithStopper(client), tui.WithPollInterval(interval))
			return ui.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Status refresh interval")

	return cmd
}

// supportsInteractiveOutput reports whether the command writes to a terminal.
func supportsInteractiveOutput(cmd *cobra.Command) bool {
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
