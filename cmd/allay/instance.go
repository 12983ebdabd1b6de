package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/allay-dev/allay/internal/instance"
)

func newInstanceCmd(rootFlags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"inst"},
		Short:   "Manage registered instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newInstanceAddCmd(rootFlags))
	cmd.AddCommand(newInstanceRemoveCmd(rootFlags))
	cmd.AddCommand(newInstanceListCmd(rootFlags))

	return cmd
}

func openStore(rootFlags *rootFlags) (*instance.Store, error) {
	home, err := allayHome(rootFlags.home)
	if err != nil {
		return nil, err
	}
	return instance.NewStore(instancesPath(home))
}

func newInstanceAddCmd(rootFlags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <config.yaml>",
		Short: "Register an instance config with Allay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstanceAdd(cmd, rootFlags, args[0])
		},
	}

	return cmd
}

func runInstanceAdd(cmd *cobra.Command, rootFlags *rootFlags, configPath string) error {
	cfg, err := instance.LoadConfig(configPath)
	if err != nil {
		return newCommandError("instance add", "validating configuration", err, "Fix the configuration errors shown above and try again.")
	}

	store, err := openStore(rootFlags)
	if err != nil {
		return newCommandError("instance add", "opening the instance store", err, "Check that the Allay home directory is writable.")
	}

	if err := store.Add(cfg.Record()); err != nil {
		return newCommandError("instance add", fmt.Sprintf("registering instance %q", cfg.Instance.ID), err, "Use a different id or remove the existing instance first.")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Registered instance '%s'\n", cfg.Instance.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "  Config: %s\n", cfg.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "  Dir:    %s\n", cfg.Instance.Dir)

	fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'allay update "+cfg.Instance.ID+"' to install its packages.")

	return nil
}

type instanceRemoveOptions struct {
	force bool
}

func newInstanceRemoveCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &instanceRemoveOptions{}

	cmd := &cobra.Command{
		Use:   "remove <instance-id>",
		Short: "Remove an instance from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstanceRemove(cmd, rootFlags, args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Remove without confirmation")

	return cmd
}

func runInstanceRemove(cmd *cobra.Command, rootFlags *rootFlags, id string, opts *instanceRemoveOptions) error {
	if strings.TrimSpace(id) == "" {
		return newCommandError("instance remove", "validating instance id", errors.New("instance id cannot be empty"), "Provide the id of the instance you wish to remove.")
	}

	store, err := openStore(rootFlags)
	if err != nil {
		return newCommandError("instance remove", "opening the instance store", err, "Check that the Allay home directory is readable.")
	}

	rec, err := store.Get(id)
	if err != nil {
		return newCommandError("instance remove", fmt.Sprintf("looking up instance %q", id), err, "Run 'allay instance list' to view registered instances.")
	}

	if !opts.force {
		confirmed, err := confirmRemoval(cmd, rec)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := store.Remove(id); err != nil {
		return newCommandError("instance remove", fmt.Sprintf("removing instance %q", id), err, "Verify the instance still exists using 'allay instance list'.")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed instance '%s'\n", id)
	fmt.Fprintf(cmd.OutOrStdout(), "\nThe config at %s and the files under %s were not deleted.\n", rec.Path, rec.Dir)

	return nil
}

func confirmRemoval(cmd *cobra.Command, rec instance.Record) (bool, error) {
	if !isTerminal(cmd.InOrStdin()) {
		return false, newCommandError("instance remove", "prompting for confirmation", errors.New("not a terminal"), "Use --force when running in non-interactive environments.")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Remove instance '%s' (%d packages installed)? [y/N]: ", rec.ID, len(rec.Installed))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return false, scanner.Err()
	}

	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

func isTerminal(reader any) bool {
	if file, ok := reader.(*os.File); ok {
		return termIsTerminal(int(file.Fd()))
	}
	return false
}

var termIsTerminal = func(fd int) bool {
	return term.IsTerminal(fd)
}

type instanceListOptions struct {
	jsonOutput bool
}

func newInstanceListCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &instanceListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstanceList(cmd, rootFlags, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runInstanceList(cmd *cobra.Command, rootFlags *rootFlags, opts *instanceListOptions) error {
	store, err := openStore(rootFlags)
	if err != nil {
		return newCommandError("instance list", "opening the instance store", err, "Check that the Allay home directory is readable.")
	}

	records := store.List()
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No instances registered yet.")
		fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'allay instance add <config.yaml>' to register your first instance.")
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})

	if opts.jsonOutput {
		return renderInstanceJSON(cmd, records)
	}

	return renderInstanceTable(cmd, records)
}

func renderInstanceTable(cmd *cobra.Command, records []instance.Record) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "ID\tSTATE\tPACKAGES\tLAST UPDATE\tPATH")

	useUnicode := supportsUnicode(cmd.OutOrStdout())

	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
			rec.ID,
			formatState(rec.State, useUnicode),
			len(rec.Installed),
			formatRelativeTime(rec.LastUpdate),
			rec.Path,
		)
	}

	return writer.Flush()
}

type instanceJSONRecord struct {
	ID         string            `json:"id"`
	Path       string            `json:"path"`
	Dir        string            `json:"dir"`
	State      instance.State    `json:"state"`
	Installed  map[string]string `json:"installed,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
	LastError  string            `json:"last_error,omitempty"`
}

type instanceJSONPayload struct {
	Version   string               `json:"version"`
	Count     int                  `json:"count"`
	Instances []instanceJSONRecord `json:"instances"`
}

func renderInstanceJSON(cmd *cobra.Command, records []instance.Record) error {
	payload := instanceJSONPayload{
		Version:   "1.0",
		Count:     len(records),
		Instances: make([]instanceJSONRecord, len(records)),
	}

	for i, rec := range records {
		payload.Instances[i] = instanceJSONRecord{
			ID:         rec.ID,
			Path:       rec.Path,
			Dir:        rec.Dir,
			State:      rec.State,
			Installed:  rec.Installed,
			LastUpdate: rec.LastUpdate,
			LastError:  rec.LastError,
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func supportsUnicode(writer any) bool {
	if file, ok := writer.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}

func formatState(s instance.State, useUnicode bool) string {
	if useUnicode {
		return fmt.Sprintf("%s %s", s.Icon(), s)
	}

	return fmt.Sprintf("%s %s", s.IconFallback(), s)
}

func formatRelativeTime(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}

	delta := time.Since(ts)
	if delta < time.Minute {
		return "just now"
	}
	if delta < time.Hour {
		return fmt.Sprintf("%d minutes ago", int(delta.Minutes()))
	}
	if delta < 24*time.Hour {
		return fmt.Sprintf("%d hours ago", int(delta.Hours()))
	}

	return fmt.Sprintf("%d days ago", int(delta.Hours()/24))
}

func valueOrFallback(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func newCommandError(operation, context string, cause error, suggestion string) error {
	return &commandError{operation: operation, context: context, cause: cause, suggestion: suggestion}
}

type commandError struct {
	operation  string
	context    string
	cause      error
	suggestion string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("Failed to %s: %s\n\nError: %v\n\nSuggestion: %s", e.operation, e.context, e.cause, e.suggestion)
}

func (e *commandError) Unwrap() error {
	return e.cause
}
