package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/rotor/internal/rotation"
	"github.com/systmms/rotor/internal/rotation/storage"
	"github.com/systmms/rotor/internal/template"
)

func NewRotateCommand(opts *Options) *cobra.Command {
	var (
		templateName string
		identity     string
		inputsFile   string
		sets         []string
		outputJSON   bool
		showValues   bool
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a credential against its provider",
		Long: `Rotate a credential: create or replace the secret on the remote system,
verify the new credential works, and print the committed values.

Inputs come from a YAML file (--inputs) and/or repeated --set flags.
Admin credentials belong in the inputs file, not on the command line.

The committed state is saved locally so the next cycle can alternate
dual-credential accounts or remove the previous API key.`,
		Example: `  # Rotate a PostgreSQL application password
  rotor rotate --template postgres --inputs prod-db.yaml

  # Rotate a SendGrid API key and print the new key as JSON
  rotor rotate --template sendgrid --inputs sendgrid.yaml --json --show-values

  # Two keys for the same template, kept apart by identity
  rotor rotate --template sendgrid --identity marketing --inputs sendgrid.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotate(cmd.Context(), opts, templateName, identity, inputsFile, sets, outputJSON, showValues)
		},
	}

	cmd.Flags().StringVar(&templateName, "template", "", "Provider template name (required)")
	cmd.Flags().StringVar(&identity, "identity", "", "Rotation target identity (derived from inputs when omitted)")
	cmd.Flags().StringVar(&inputsFile, "inputs", "", "YAML file with rotation inputs")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Input override as name=value (repeatable)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&showValues, "show-values", false, "Print credential values instead of redacting them")

	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func runRotate(ctx context.Context, opts *Options, templateName, identity, inputsFile string, sets []string, outputJSON, showValues bool) error {
	rt, err := newRuntime(opts)
	if err != nil {
		return err
	}

	inputs, err := readInputs(inputsFile, sets)
	if err != nil {
		return err
	}

	identity = effectiveIdentity(rt.catalog, templateName, identity, inputs)
	prior := priorState(rt.store, templateName, identity, opts)

	req := rotation.Request{
		Template:  templateName,
		Operation: template.OpNameSet,
		Identity:  identity,
		Inputs:    inputs,
	}
	if prior != nil {
		req.PriorInternal = prior.Internal
		req.RetireInternal = prior.Previous
	}

	result, rotateErr := rt.orchestrator.Rotate(ctx, req)
	recordOutcome(opts, rt.store, result, rotateErr)
	if rotateErr != nil {
		return rotateErr
	}

	state := &storage.RotationState{
		Template:  result.Template,
		Identity:  result.Identity,
		Operation: result.Operation,
		Outputs:   result.Outputs,
		Internal:  result.Internal,
	}
	if prior != nil {
		// The replaced credential stays valid for one more cycle before
		// the next rotation revokes it.
		state.Previous = prior.Internal
	}
	if err := rt.store.SaveState(state); err != nil {
		// The remote side already rotated; losing local state means the
		// next cycle cannot alternate or remove, so this is a real error.
		return fmt.Errorf("rotation committed but state could not be saved: %w", err)
	}

	return printResult(opts, result, outputJSON, showValues)
}

// priorState loads the state committed by the previous cycle. A target
// that never rotated has none; a storage read failure degrades to a first
// rotation rather than blocking.
func priorState(store storage.Storage, templateName, identity string, opts *Options) *storage.RotationState {
	state, err := store.GetState(templateName, identity)
	if err != nil {
		opts.Logger.Warn("cannot read prior rotation state: %v", err)
		return nil
	}
	return state
}

func priorInternal(store storage.Storage, templateName, identity string, opts *Options) map[string]any {
	if state := priorState(store, templateName, identity, opts); state != nil {
		return state.Internal
	}
	return nil
}

func printResult(opts *Options, result *rotation.Result, outputJSON, showValues bool) error {
	outputs := result.Outputs
	if !showValues {
		redacted := make(map[string]any, len(outputs))
		for k := range outputs {
			redacted[k] = "[REDACTED]"
		}
		outputs = redacted
	}

	if outputJSON {
		doc := map[string]any{
			"template": result.Template,
			"identity": result.Identity,
			"state":    result.State,
			"attempts": result.Attempts,
			"outputs":  outputs,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	opts.Logger.Info("Rotation committed for %s/%s (%d attempt(s))",
		result.Template, result.Identity, result.Attempts)
	for k, v := range outputs {
		fmt.Printf("  %s: %v\n", k, v)
	}
	if !showValues {
		opts.Logger.Info("Values redacted; pass --show-values to print them")
	}
	return nil
}
