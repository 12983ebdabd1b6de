package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/allay-dev/allay/internal/resolver"
)

type resolveOptions struct {
	sync       bool
	jsonOutput bool
}

func newResolveCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve <instance-id|config.yaml>",
		Short: "Resolve an instance's packages without installing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, rootFlags, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.sync, "sync", false, "Refresh provider metadata before resolving")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the plan as JSON")

	return cmd
}

func runResolve(cmd *cobra.Command, rootFlags *rootFlags, target string, opts *resolveOptions) error {
	env, err := newAppEnv(rootFlags)
	if err != nil {
		return newCommandError("resolve", "preparing the Allay home", err, "Check that the Allay home directory is readable and not corrupted.")
	}

	cfg, err := env.resolveTarget(target)
	if err != nil {
		return newCommandError("resolve", fmt.Sprintf("loading instance %q", target), err, "Run 'allay instance list' to view registered instances, or pass a config file path.")
	}

	ctx := cmd.Context()

	if opts.sync {
		env.loadPlugins(ctx)
		report, err := env.syncer.Sync(ctx, requestedPackages(cfg))
		if err != nil {
			return newCommandError("resolve", "syncing provider metadata", err, "Check the provider plugin's output with --verbose and retry.")
		}
		if !report.Ok() {
			return newCommandError("resolve", "syncing provider metadata", errors.Join(report.Errs()...), "Failing providers keep their previous packages; fix the plugin and retry.")
		}
		if err := env.saveCache(); err != nil {
			return newCommandError("resolve", "persisting the package cache", err, "Check disk space and permissions on the Allay home.")
		}
	}

	// An unregistered instance resolves from a blank slate.
	installed, err := env.store.Installed(cfg.Instance.ID)
	if err != nil {
		installed = nil
	}

	snap := env.cache.Snapshot()
	plan, err := resolver.Resolve(resolver.Input{
		Requests:  resolveRequests(cfg),
		Snapshot:  snap,
		Installed: installed,
	})
	if err != nil {
		return newCommandError("resolve", fmt.Sprintf("resolving packages for %q", cfg.Instance.ID), err, "Run 'allay sync' to refresh provider metadata, then retry.")
	}

	if opts.jsonOutput {
		return renderResolveJSON(cmd, cfg.Instance.ID, plan)
	}

	return renderResolveTable(cmd, cfg.Instance.ID, plan)
}

func renderResolveTable(cmd *cobra.Command, instanceID string, plan *resolver.Plan) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Instance: %s\n", instanceID)

	if len(plan.Packages) == 0 {
		fmt.Fprintln(out, "\nNo packages requested.")
		return nil
	}

	fmt.Fprintln(out)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PACKAGE\tVERSION\tPROVIDER\tREQUIRED BY")
	for _, pkg := range plan.Packages {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			pkg.Package,
			pkg.Version,
			pkg.Provider,
			requiredByColumn(pkg.RequiredBy),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	for _, name := range plan.ToUninstall {
		fmt.Fprintf(out, "  - remove %s\n", name)
	}
	for _, pkg := range plan.ToInstall {
		fmt.Fprintf(out, "  + install %s %s\n", pkg.Package, pkg.Version)
	}

	if len(plan.ToInstall) == 0 && len(plan.ToUninstall) == 0 {
		fmt.Fprintln(out, "Already up to date; an update would change nothing.")
	} else {
		fmt.Fprintf(out, "\n%d to install, %d to remove.\n", len(plan.ToInstall), len(plan.ToUninstall))
	}

	return nil
}

type resolveJSONPackage struct {
	Package    string   `json:"package"`
	Version    string   `json:"version"`
	Provider   string   `json:"provider"`
	RequiredBy []string `json:"required_by,omitempty"`
}

type resolveJSONPayload struct {
	Version     string               `json:"version"`
	Instance    string               `json:"instance"`
	Count       int                  `json:"count"`
	Packages    []resolveJSONPackage `json:"packages"`
	ToInstall   []resolveJSONPackage `json:"to_install"`
	ToUninstall []string             `json:"to_uninstall,omitempty"`
}

func renderResolveJSON(cmd *cobra.Command, instanceID string, plan *resolver.Plan) error {
	payload := resolveJSONPayload{
		Version:     "1.0",
		Instance:    instanceID,
		Count:       len(plan.Packages),
		Packages:    make([]resolveJSONPackage, len(plan.Packages)),
		ToInstall:   make([]resolveJSONPackage, len(plan.ToInstall)),
		ToUninstall: plan.ToUninstall,
	}

	for i, pkg := range plan.Packages {
		payload.Packages[i] = resolveJSONPackage{
			Package:    pkg.Package,
			Version:    pkg.Version,
			Provider:   pkg.Provider,
			RequiredBy: pkg.RequiredBy,
		}
	}
	for i, pkg := range plan.ToInstall {
		payload.ToInstall[i] = resolveJSONPackage{
			Package:    pkg.Package,
			Version:    pkg.Version,
			Provider:   pkg.Provider,
			RequiredBy: pkg.RequiredBy,
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func requiredByColumn(requiredBy []string) string {
	if len(requiredBy) == 0 {
		return "(requested)"
	}
	return strings.Join(requiredBy, ", ")
}
