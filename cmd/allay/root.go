package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose bool
	home    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "allay",
		Short:         "Allay keeps game instances in sync with their declared packages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no subcommand is provided, launch the dashboard
			if len(args) == 0 {
				return runDash(cmd, flags)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVar(&flags.home, "home", "", "Override the Allay home directory (default ~/.allay, or $ALLAY_HOME)")

	cmd.AddCommand(newSyncCmd(flags))
	cmd.AddCommand(newResolveCmd(flags))
	cmd.AddCommand(newUpdateCmd(flags))
	cmd.AddCommand(newInstanceCmd(flags))
	cmd.AddCommand(newPluginCmd(flags))
	cmd.AddCommand(newDashCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
