package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/pkgcache"
)

type syncOptions struct {
	jsonOutput bool
}

func newSyncCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh package metadata from every provider plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootFlags, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the sync report as JSON")

	return cmd
}

func runSync(cmd *cobra.Command, rootFlags *rootFlags, opts *syncOptions) error {
	env, err := newAppEnv(rootFlags)
	if err != nil {
		return newCommandError("sync", "preparing the Allay home", err, "Check that the Allay home directory is readable and not corrupted.")
	}

	if len(env.reg.Subscribers(hook.ProvidePackages)) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No provider plugins are loaded.")
		fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'allay plugin install <git-url>' to add one.")
		return nil
	}

	ctx := cmd.Context()
	env.loadPlugins(ctx)

	report, err := env.syncer.Sync(ctx, nil)
	if err != nil {
		return newCommandError("sync", "refreshing provider metadata", err, "Check the provider plugin's output with --verbose and retry.")
	}

	if err := env.saveCache(); err != nil {
		return newCommandError("sync", "persisting the package cache", err, "Check disk space and permissions on the Allay home.")
	}

	snap := env.cache.Snapshot()

	if opts.jsonOutput {
		if err := renderSyncJSON(cmd, report, snap); err != nil {
			return err
		}
	} else if err := renderSyncTable(cmd, report, snap); err != nil {
		return err
	}

	if !report.Ok() {
		return newCommandError("sync", "refreshing provider metadata", errors.Join(report.Errs()...), "Failing providers keep their previous packages; fix the plugin and re-run 'allay sync'.")
	}
	return nil
}

func renderSyncTable(cmd *cobra.Command, report *pkgcache.SyncReport, snap *pkgcache.Snapshot) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "PROVIDER\tPACKAGES\tVERSIONS\tSKIPPED\tSTATUS")

	for _, id := range providerIDs(report) {
		outcome := report.Providers[id]
		status := "ok"
		if outcome.Err != nil {
			status = outcome.Err.Error()
		}
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%s\n",
			id, outcome.Packages, outcome.Versions, outcome.Skipped, status)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nCache holds %d packages (generation %d).\n",
		len(snap.Packages()), snap.Generation())
	return nil
}

type syncJSONProvider struct {
	ID       string `json:"id"`
	Packages int    `json:"packages"`
	Versions int    `json:"versions"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

type syncJSONPayload struct {
	Version       string             `json:"version"`
	Count         int                `json:"count"`
	Providers     []syncJSONProvider `json:"providers"`
	TotalPackages int                `json:"total_packages"`
	Generation    uint64             `json:"generation"`
}

func renderSyncJSON(cmd *cobra.Command, report *pkgcache.SyncReport, snap *pkgcache.Snapshot) error {
	payload := syncJSONPayload{
		Version:       "1.0",
		Count:         len(report.Providers),
		TotalPackages: len(snap.Packages()),
		Generation:    snap.Generation(),
	}

	for _, id := range providerIDs(report) {
		outcome := report.Providers[id]
		entry := syncJSONProvider{
			ID:       id,
			Packages: outcome.Packages,
			Versions: outcome.Versions,
			Skipped:  outcome.Skipped,
		}
		if outcome.Err != nil {
			entry.Error = outcome.Err.Error()
		}
		payload.Providers = append(payload.Providers, entry)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func providerIDs(report *pkgcache.SyncReport) []string {
	ids := make([]string, 0, len(report.Providers))
	for id := range report.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
