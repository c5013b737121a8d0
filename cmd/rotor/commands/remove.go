package commands

import (
	"context"

	"github.com/spf13/cobra"
	rerrors "github.com/systmms/rotor/internal/errors"
	"github.com/systmms/rotor/internal/rotation"
	"github.com/systmms/rotor/internal/template"
)

func NewRemoveCommand(opts *Options) *cobra.Command {
	var (
		templateName string
		identity     string
		inputsFile   string
		sets         []string
		keepState    bool
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a previously rotated credential from its provider",
		Long: `Remove the credential a previous rotation created, e.g. delete the old
API key. The saved rotation state supplies the remote identifiers the
provider needs; local state is deleted once the remote side confirms.`,
		Example: `  # Delete the SendGrid key created by the last rotation
  rotor remove --template sendgrid --inputs sendgrid.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), opts, templateName, identity, inputsFile, sets, keepState)
		},
	}

	cmd.Flags().StringVar(&templateName, "template", "", "Provider template name (required)")
	cmd.Flags().StringVar(&identity, "identity", "", "Rotation target identity (derived from inputs when omitted)")
	cmd.Flags().StringVar(&inputsFile, "inputs", "", "YAML file with rotation inputs")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Input override as name=value (repeatable)")
	cmd.Flags().BoolVar(&keepState, "keep-state", false, "Keep the local state file after removal")

	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func runRemove(ctx context.Context, opts *Options, templateName, identity, inputsFile string, sets []string, keepState bool) error {
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}

	inputs, err := readInputs(inputsFile, sets)
	if err != nil {
		return err
	}

	identity = effectiveIdentity(rt.catalog, templateName, identity, inputs)
	prior := priorInternal(rt.store, templateName, identity, opts)
	if len(prior) == 0 {
		opts.Logger.Warn("no saved state for %s; remove relies entirely on the given inputs", templateName)
	}

	result, rotateErr := rt.orchestrator.Rotate(ctx, rotation.Request{
		Template:      templateName,
		Operation:     template.OpNameRemove,
		Identity:      identity,
		Inputs:        inputs,
		PriorInternal: prior,
	})
	recordOutcome(opts, rt.store, result, rotateErr)
	if rotateErr != nil {
		return rotateErr
	}

	if !keepState {
		if err := rt.store.DeleteState(result.Template, result.Identity); err != nil {
			return rerrors.UserError{
				Message:    "Credential removed but local state could not be deleted",
				Details:    err.Error(),
				Suggestion: "Delete the state file by hand or re-run with --keep-state next time",
				Err:        err,
			}
		}
	}

	opts.Logger.Info("Credential removed for %s/%s", result.Template, result.Identity)
	return nil
}
