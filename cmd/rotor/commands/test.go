package commands

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/systmms/rotor/internal/rotation"
	"github.com/systmms/rotor/internal/template"
)

func NewTestCommand(opts *Options) *cobra.Command {
	var (
		templateName string
		identity     string
		inputsFile   string
		sets         []string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Verify the current credential still works",
		Long: `Run the template's test operation against the remote system using the
last committed rotation state. Nothing is changed or saved; the exit code
reports whether the credential is still valid.`,
		Example: `  # Check the rotated database credential
  rotor test --template postgres --inputs prod-db.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), opts, templateName, identity, inputsFile, sets)
		},
	}

	cmd.Flags().StringVar(&templateName, "template", "", "Provider template name (required)")
	cmd.Flags().StringVar(&identity, "identity", "", "Rotation target identity (derived from inputs when omitted)")
	cmd.Flags().StringVar(&inputsFile, "inputs", "", "YAML file with rotation inputs")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Input override as name=value (repeatable)")

	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func runTest(ctx context.Context, opts *Options, templateName, identity, inputsFile string, sets []string) error {
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}

	inputs, err := readInputs(inputsFile, sets)
	if err != nil {
		return err
	}

	identity = effectiveIdentity(rt.catalog, templateName, identity, inputs)
	result, rotateErr := rt.orchestrator.Rotate(ctx, rotation.Request{
		Template:      templateName,
		Operation:     template.OpNameTest,
		Identity:      identity,
		Inputs:        inputs,
		PriorInternal: priorInternal(rt.store, templateName, identity, opts),
	})
	if rotateErr != nil {
		return rotateErr
	}

	opts.Logger.Info("Credential for %s/%s verified", result.Template, result.Identity)
	return nil
}
