package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/systmms/rotor/cmd/rotor/commands"
	"github.com/systmms/rotor/internal/config"
	"github.com/systmms/rotor/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe enclave material even when a command bails out early.
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.Purge()
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "rotor",
		Short: "Credential rotation engine for databases and API providers",
		Long: `rotor rotates credentials against the systems that own them: it creates
or replaces a secret on the remote side, verifies the new credential works,
and hands the committed values back. Templates describe each provider;
rotor drives the cycle.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.ConfigPath = configFile
			opts.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRotateCommand(opts),
		commands.NewRemoveCommand(opts),
		commands.NewTestCommand(opts),
		commands.NewTemplatesCommand(opts),
		commands.NewStatusCommand(opts),
		commands.NewHistoryCommand(opts),
	)

	return rootCmd.Execute()
}
