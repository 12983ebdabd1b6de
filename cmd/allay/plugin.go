package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/manifest"
	"github.com/allay-dev/allay/internal/registry"
)

func newPluginCmd(rootFlags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugin",
		Aliases: []string{"plugins"},
		Short:   "Manage Allay plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newPluginListCmd(rootFlags))
	cmd.AddCommand(newPluginInstallCmd(rootFlags))

	return cmd
}

func openRegistry(rootFlags *rootFlags) (*registry.Registry, error) {
	home, err := allayHome(rootFlags.home)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(rootFlags)
	if err != nil {
		return nil, err
	}

	return registry.Load(pluginsDir(home), log)
}

type pluginListOptions struct {
	jsonOutput bool
}

func newPluginListCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &pluginListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginList(cmd, rootFlags, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runPluginList(cmd *cobra.Command, rootFlags *rootFlags, opts *pluginListOptions) error {
	reg, err := openRegistry(rootFlags)
	if err != nil {
		return newCommandError("plugin list", "loading the plugin registry", err, "Check permissions on the plugins directory and try again.")
	}

	plugins := reg.All()
	if len(plugins) == 0 && len(reg.Warnings()) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No plugins installed yet.")
		fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'allay plugin install <git-url>' to add one.")
		return nil
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID < plugins[j].ID
	})

	if opts.jsonOutput {
		return renderPluginJSON(cmd, plugins, reg.Warnings())
	}

	return renderPluginTable(cmd, plugins, reg.Warnings())
}

func renderPluginTable(cmd *cobra.Command, plugins []*registry.Plugin, warnings []error) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "ID\tCAPABILITIES\tHOOKS\tDESCRIPTION")

	for _, p := range plugins {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			p.ID,
			joinCapabilities(p.Capabilities),
			joinHooks(p.Hooks),
			valueOrFallback(p.Description, "(none)"),
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	if len(warnings) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %v\n", w)
		}
	}

	return nil
}

type pluginJSONEntry struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Executable   string   `json:"executable"`
	Hooks        []string `json:"hooks"`
	Capabilities []string `json:"capabilities"`
	Dir          string   `json:"dir"`
}

type pluginJSONPayload struct {
	Version  string            `json:"version"`
	Count    int               `json:"count"`
	Plugins  []pluginJSONEntry `json:"plugins"`
	Warnings []string          `json:"warnings,omitempty"`
}

func renderPluginJSON(cmd *cobra.Command, plugins []*registry.Plugin, warnings []error) error {
	payload := pluginJSONPayload{
		Version: "1.0",
		Count:   len(plugins),
		Plugins: make([]pluginJSONEntry, len(plugins)),
	}

	for i, p := range plugins {
		entry := pluginJSONEntry{
			ID:          p.ID,
			Description: p.Description,
			Executable:  p.Executable,
			Dir:         p.Dir,
		}
		for _, h := range p.Hooks {
			entry.Hooks = append(entry.Hooks, string(h))
		}
		for _, c := range p.Capabilities {
			entry.Capabilities = append(entry.Capabilities, string(c))
		}
		payload.Plugins[i] = entry
	}

	for _, w := range warnings {
		payload.Warnings = append(payload.Warnings, w.Error())
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

type pluginInstallOptions struct {
	id    string
	ref   string
	depth int
}

func newPluginInstallCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &pluginInstallOptions{}

	cmd := &cobra.Command{
		Use:   "install <git-url>",
		Short: "Install a plugin by cloning its git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginInstall(cmd, rootFlags, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.id, "id", "i", "", "Plugin id (derived from the repository name if omitted)")
	cmd.Flags().StringVar(&opts.ref, "ref", "", "Branch to clone instead of the default")
	cmd.Flags().IntVar(&opts.depth, "depth", 1, "Clone depth (0 for full history)")

	return cmd
}

func runPluginInstall(cmd *cobra.Command, rootFlags *rootFlags, url string, opts *pluginInstallOptions) error {
	home, err := allayHome(rootFlags.home)
	if err != nil {
		return newCommandError("plugin install", "resolving the Allay home", err, "Ensure your HOME directory is set correctly.")
	}

	log, err := newLogger(rootFlags)
	if err != nil {
		return newCommandError("plugin install", "creating the logger", err, "Retry without --verbose to rule out a bad log level.")
	}

	m, dest, err := registry.Install(cmd.Context(), pluginsDir(home), registry.InstallOptions{
		URL:   url,
		ID:    opts.id,
		Ref:   opts.ref,
		Depth: opts.depth,
	}, log)
	if err != nil {
		return newCommandError("plugin install", fmt.Sprintf("installing plugin from %q", url), err, "Check the repository URL, your network connection, and that the repository contains a plugin.yaml.")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Installed plugin '%s'\n", m.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "  Path:  %s\n", dest)
	fmt.Fprintf(cmd.OutOrStdout(), "  Hooks: %s\n", joinHooks(m.Hooks))

	fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'allay plugin list' to verify it loads.")

	return nil
}

func joinHooks(hooks []hook.Name) string {
	if len(hooks) == 0 {
		return "(none)"
	}
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = string(h)
	}
	return strings.Join(names, ", ")
}

func joinCapabilities(caps []manifest.Capability) string {
	if len(caps) == 0 {
		return "(none)"
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
