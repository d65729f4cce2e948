package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/corral/internal/procdir"
)

func newPsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps [NAME]",
		Short: "List host processes, optionally only those matching an executable name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := newDirectory()
			snapshot, err := dir.List(cmd.Context())
			if err != nil {
				return err
			}
			filtered := len(args) == 1
			var filter procdir.PIDSet
			if filtered {
				filter = dir.FindByName(snapshot, args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tPPID\tTHREADS\tPATH")
			for _, entry := range snapshot {
				if filtered && !filter.Has(entry.PID) {
					continue
				}
				path := entry.Path
				if path == "" {
					path = "-"
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", entry.PID, entry.PPID, entry.Threads, path)
			}
			return w.Flush()
		},
	}
	return cmd
}
