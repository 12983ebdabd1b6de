package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupAllayHome points ALLAY_HOME at a scratch directory for one test.
func setupAllayHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ALLAY_HOME", home)
	return home
}

func executeAllay(args ...string) (string, error) {
	return executeAllayInput(nil, args...)
}

func executeAllayInput(stdin io.Reader, args ...string) (string, error) {
	root := newRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// writeInstanceConfig writes a minimal instance config and returns its path.
// Package entries are bare ids, so every request resolves as "any version".
func writeInstanceConfig(t *testing.T, id string, packages ...string) string {
	t.Helper()

	dir := t.TempDir()

	var b strings.Builder
	fmt.Fprintf(&b, "instance:\n  id: %s\n  dir: %s\n", id, filepath.Join(dir, "files"))
	if len(packages) > 0 {
		b.WriteString("packages:\n")
		for _, p := range packages {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}

	path := filepath.Join(dir, id+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func skipWithoutPOSIXShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}
}

// installShPlugin drops a flat manifest and its shell executable into the
// home's plugins directory.
func installShPlugin(t *testing.T, home, id string, hooks, capabilities []string, script string) {
	t.Helper()

	dir := pluginsDir(home)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	scriptPath := filepath.Join(dir, id+".sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nexecutable: %s\n", id, scriptPath)
	if len(hooks) > 0 {
		b.WriteString("hooks:\n")
		for _, h := range hooks {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}
	if len(capabilities) > 0 {
		b.WriteString("capabilities:\n")
		for _, c := range capabilities {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(b.String()), 0o644))
}
