package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewHistoryCommand(opts *Options) *cobra.Command {
	var (
		identity     string
		historyLimit int
		statusFilter string
		outputJSON   bool
		cleanupDays  int
	)

	cmd := &cobra.Command{
		Use:   "history <template>",
		Short: "Show rotation history for a target",
		Long: `Show past rotation cycles for a target: when they ran, whether they
committed, how many attempts they took, and the failure stage for cycles
that did not.`,
		Example: `  # Last ten cycles
  rotor history sendgrid --limit 10

  # Only failures, as JSON
  rotor history sendgrid --status failed --json

  # Drop entries older than 90 days
  rotor history sendgrid --cleanup-days 90`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], identity, historyLimit, statusFilter, outputJSON, cleanupDays)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Rotation target identity")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show entries with this status (committed, failed)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print entries as JSON")
	cmd.Flags().IntVar(&cleanupDays, "cleanup-days", 0, "Delete history entries older than this many days first")

	return cmd
}

func runHistory(opts *Options, templateName, identity string, limit int, statusFilter string, outputJSON bool, cleanupDays int) error {
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}

	if cleanupDays > 0 {
		age := time.Duration(cleanupDays) * 24 * time.Hour
		if err := rt.store.CleanupOldEntries(age); err != nil {
			return fmt.Errorf("history cleanup failed: %w", err)
		}
	}

	entries, err := rt.store.GetHistory(templateName, identity, limit)
	if err != nil {
		return err
	}

	if statusFilter != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Status == statusFilter {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if len(entries) == 0 {
		opts.Logger.Info("No rotation history for %s", targetLabel(templateName, identity))
		return nil
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tOPERATION\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, e := range entries {
		errText := e.Error
		if e.FailedAt != "" {
			errText = fmt.Sprintf("[%s] %s", e.FailedAt, errText)
		}
		if len(errText) > 80 {
			errText = errText[:77] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Operation, e.Status,
			e.Attempts, e.Duration.Round(time.Millisecond), errText)
	}
	return w.Flush()
}
