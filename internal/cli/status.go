package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/corral/internal/api"
	"github.com/Paintersrp/corral/internal/engine"
)

func newStatusCmd(ctx *context) *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display tracked and draining processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			writeStatusReport(cmd.OutOrStdout(), report, time.Now(), historyLimit)
			return nil
		},
	}
	cmd.Flags().IntVar(&historyLimit, "history", 0, "Show last N transitions per application")
	return cmd
}

func writeStatusReport(out io.Writer, report *api.StatusReport, now time.Time, historyLimit int) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tAPP\tPID\tLEVEL\tSTATE\tAGE")
	writeRecords(w, report.Active, "Running", now)
	writeRecords(w, report.Draining, "Draining", now)
	w.Flush()

	launching := "enabled"
	if report.LaunchingDisabled {
		launching = "disabled"
	}
	boot := "pending"
	if report.BootLaunched {
		boot = "launched"
	}
	fmt.Fprintf(out, "\nLaunching: %s  Boot: %s\n", launching, boot)
	if !report.GeneratedAt.IsZero() {
		fmt.Fprintf(out, "Reported at %s\n", report.GeneratedAt.Format(time.RFC3339))
	}

	if historyLimit <= 0 || len(report.History) == 0 {
		return
	}
	for _, key := range sortedKeys(report.History) {
		history := report.History[key]
		if len(history) > historyLimit {
			history = history[len(history)-historyLimit:]
		}
		if len(history) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s history:\n", key)
		for _, entry := range history {
			reason := entry.Reason
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(out, "  %s  %-14s  %-20s  %s\n",
				entry.Timestamp.Format(time.RFC3339),
				formatStatusState(entry.Type),
				reason,
				entry.Message)
		}
	}
}

func writeRecords(w io.Writer, records []engine.Record, state string, now time.Time) {
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", rec.Product, rec.App, rec.PID, rec.Level, state, formatAge(rec.Since, now))
	}
}

func formatAge(since, now time.Time) string {
	if since.IsZero() {
		return "-"
	}
	age := now.Sub(since)
	if age < 0 {
		age = 0
	}
	return units.HumanDuration(age)
}

func formatStatusState(t engine.EventType) string {
	if t == "" {
		return "-"
	}
	s := strings.ReplaceAll(string(t), "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
