package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStartupCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "startup",
		Short: "Manage applications launched when the supervisor boots",
	}
	cmd.AddCommand(newStartupAddCmd(ctx))
	cmd.AddCommand(newStartupRemoveCmd(ctx))
	cmd.AddCommand(newStartupListCmd(ctx))
	return cmd
}

func newStartupAddCmd(ctx *context) *cobra.Command {
	var oneShot bool
	cmd := &cobra.Command{
		Use:   "add PRODUCT APP [-- PARAMS...]",
		Short: "Schedule an application for launch at boot",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, app := args[0], args[1]
			outcome, err := ctx.client().ScheduleAtStartup(cmd.Context(), product, app, joinParams(args[2:]), oneShot)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), product+"/"+app, outcome)
		},
	}
	cmd.Flags().BoolVar(&oneShot, "one-shot", false, "Remove the entry after its first boot launch")
	return cmd
}

func newStartupRemoveCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove PRODUCT APP",
		Short: "Remove a startup entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, app := args[0], args[1]
			outcome, err := ctx.client().RemoveFromStartup(cmd.Context(), product, app)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), product+"/"+app, outcome)
		},
	}
	return cmd
}

func newStartupListCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [PRODUCT]",
		Short: "List startup entries from the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			product := ""
			if len(args) == 1 {
				product = args[0]
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRODUCT\tAPP\tONE-SHOT\tPARAMS")
			for _, entry := range doc.Startup {
				if product != "" && entry.Product != product {
					continue
				}
				oneShot := "no"
				if entry.OneShot {
					oneShot = "yes"
				}
				params := entry.Params
				if params == "" {
					params = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", entry.Product, entry.App, oneShot, params)
			}
			return w.Flush()
		},
	}
	return cmd
}
