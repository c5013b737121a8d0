package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	rerrors "github.com/systmms/rotor/internal/errors"
)

func NewStatusCommand(opts *Options) *cobra.Command {
	var (
		identity   string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status <template>",
		Short: "Show rotation status for a target",
		Long: `Show when a target last rotated, whether it succeeded, and its
success/failure counters.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], identity, outputJSON)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Rotation target identity")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the status as JSON")

	return cmd
}

func runStatus(opts *Options, templateName, identity string, outputJSON bool) error {
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}

	status, err := rt.store.GetStatus(templateName, identity)
	if err != nil {
		return err
	}
	if status == nil {
		return rerrors.UserError{
			Message:    fmt.Sprintf("No rotation status for %s", targetLabel(templateName, identity)),
			Suggestion: "Run 'rotor rotate' first, or pass the identity the rotation used with --identity",
		}
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Template:\t%s\n", status.Template)
	fmt.Fprintf(w, "Identity:\t%s\n", status.Identity)
	fmt.Fprintf(w, "Last rotation:\t%s\n", status.LastRotation.Format(time.RFC3339))
	fmt.Fprintf(w, "Last result:\t%s\n", status.LastResult)
	if status.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", status.LastError)
	}
	fmt.Fprintf(w, "Rotations:\t%d (%d ok, %d failed)\n",
		status.RotationCount, status.SuccessCount, status.FailureCount)
	return w.Flush()
}

func targetLabel(templateName, identity string) string {
	if identity == "" {
		return templateName
	}
	return templateName + "/" + identity
}
