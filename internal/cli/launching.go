package cli

import (
	"github.com/spf13/cobra"
)

func newLaunchingCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launching",
		Short: "Gag or ungag new launches (requires the control token)",
	}
	cmd.AddCommand(newLaunchingToggleCmd(ctx, "disable", "Refuse new launches except for gag-exempt applications", false))
	cmd.AddCommand(newLaunchingToggleCmd(ctx, "enable", "Allow launches again", true))
	return cmd
}

func newLaunchingToggleCmd(ctx *context, use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := ctx.client().SetLaunching(cmd.Context(), enabled)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), "launching "+use, outcome)
		},
	}
}
