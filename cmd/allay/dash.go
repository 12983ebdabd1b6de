package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/allay-dev/allay/internal/dash"
	"github.com/allay-dev/allay/internal/logger"
)

func newDashCmd(rootFlags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Launch the interactive instance dashboard",
		Long:  `Launch the interactive TUI dashboard to view and update registered instances.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDash(cmd, rootFlags)
		},
	}

	return cmd
}

func runDash(cmd *cobra.Command, rootFlags *rootFlags) error {
	// The alternate screen owns the terminal while the dashboard runs;
	// update failures surface in the notice line instead of the log.
	log, err := logger.New(logger.Options{Writer: io.Discard})
	if err != nil {
		return err
	}

	env, err := newAppEnvWith(rootFlags, log)
	if err != nil {
		return newCommandError("dash", "preparing the Allay home", err, "Check that the Allay home directory is readable and not corrupted.")
	}

	env.loadPlugins(cmd.Context())

	if err := dash.Run(env.store, env.orch, supportsUnicode(os.Stdout)); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}

	// Keep whatever metadata the background updates synced.
	if err := env.saveCache(); err != nil {
		return fmt.Errorf("failed to persist package cache: %w", err)
	}

	return nil
}
