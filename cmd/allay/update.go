package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/allay-dev/allay/internal/orchestrator"
)

type updateOptions struct {
	jsonOutput bool
}

func newUpdateCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &updateOptions{}

	cmd := &cobra.Command{
		Use:   "update <instance-id|config.yaml>",
		Short: "Sync, resolve, and install packages for an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, rootFlags, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the update report as JSON")

	return cmd
}

func runUpdate(cmd *cobra.Command, rootFlags *rootFlags, target string, opts *updateOptions) error {
	env, err := newAppEnv(rootFlags)
	if err != nil {
		return newCommandError("update", "preparing the Allay home", err, "Check that the Allay home directory is readable and not corrupted.")
	}

	cfg, err := env.resolveTarget(target)
	if err != nil {
		return newCommandError("update", fmt.Sprintf("loading instance %q", target), err, "Run 'allay instance list' to view registered instances, or pass a config file path.")
	}

	ctx := cmd.Context()
	env.loadPlugins(ctx)

	report, runErr := env.orch.Update(ctx, cfg)

	// The sync phase may have refreshed metadata even when the run failed
	// later; keep whatever it learned.
	if err := env.saveCache(); err != nil {
		env.log.Error(err, "failed to persist package cache")
	}

	if opts.jsonOutput {
		if err := renderUpdateJSON(cmd, report); err != nil {
			return err
		}
		return runErr
	}

	renderUpdateReport(cmd, report)
	return runErr
}

func renderUpdateReport(cmd *cobra.Command, report *orchestrator.Report) {
	out := cmd.OutOrStdout()
	useUnicode := supportsUnicode(out)

	fmt.Fprintf(out, "Instance: %s\n", report.Instance)
	fmt.Fprintf(out, "State:    %s\n", formatState(report.State, useUnicode))

	if len(report.Steps) > 0 {
		fmt.Fprintln(out)

		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ACTION\tPACKAGE\tVERSION\tSTATUS\tPLUGIN\tDETAIL")
		for _, step := range report.Steps {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				step.Action,
				step.Package,
				step.Version,
				step.Status,
				valueOrFallback(step.Plugin, "-"),
				valueOrFallback(step.Message, "-"),
			)
		}
		_ = writer.Flush()
	}

	fmt.Fprintf(out, "\n%d installed, %d removed, %d failed, %d skipped in %s\n",
		report.Installed, report.Removed, report.Failed, report.Skipped,
		report.Duration.Round(time.Millisecond))

	if report.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", report.Error)
	}
}

type updateJSONPayload struct {
	Version string               `json:"version"`
	Report  *orchestrator.Report `json:"report"`
}

func renderUpdateJSON(cmd *cobra.Command, report *orchestrator.Report) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(updateJSONPayload{Version: "1.0", Report: report})
}
