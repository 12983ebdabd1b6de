package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, home, name, body string) {
	t.Helper()
	dir := pluginsDir(home)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestPluginListEmpty(t *testing.T) {
	setupAllayHome(t)

	stdout, err := executeAllay("plugin", "list")
	require.NoError(t, err)
	require.Contains(t, stdout, "No plugins installed yet.")
	require.Contains(t, stdout, "Run 'allay plugin install <git-url>'")
}

func TestPluginListTableOutput(t *testing.T) {
	home := setupAllayHome(t)

	writeManifest(t, home, "modrinth.yaml", `id: modrinth
description: Modrinth package provider
executable: modrinth-plugin
hooks:
  - provide_packages
  - install_package
capabilities:
  - provider
  - installer
`)
	writeManifest(t, home, "audit.yaml", `id: audit
executable: audit-plugin
hooks:
  - install_package
capabilities:
  - observer
`)
	writeManifest(t, home, "broken.yaml", "id: [unclosed")

	stdout, err := executeAllay("plugin", "list")
	require.NoError(t, err)

	require.Contains(t, stdout, "modrinth")
	require.Contains(t, stdout, "provider, installer")
	require.Contains(t, stdout, "provide_packages, install_package")
	require.Contains(t, stdout, "Modrinth package provider")
	require.Contains(t, stdout, "audit")
	require.Contains(t, stdout, "Warnings:")
	require.Contains(t, stdout, "broken.yaml")
}

func TestPluginListJSONOutput(t *testing.T) {
	home := setupAllayHome(t)

	writeManifest(t, home, "modrinth.yaml", `id: modrinth
executable: modrinth-plugin
hooks:
  - provide_packages
capabilities:
  - provider
`)
	writeManifest(t, home, "audit.yaml", `id: audit
executable: audit-plugin
hooks:
  - install_package
capabilities:
  - observer
`)

	stdout, err := executeAllay("plugin", "list", "--json")
	require.NoError(t, err)

	var payload struct {
		Version string `json:"version"`
		Count   int    `json:"count"`
		Plugins []struct {
			ID           string   `json:"id"`
			Hooks        []string `json:"hooks"`
			Capabilities []string `json:"capabilities"`
		} `json:"plugins"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &payload))
	require.Equal(t, "1.0", payload.Version)
	require.Equal(t, 2, payload.Count)
	require.Equal(t, "audit", payload.Plugins[0].ID)
	require.Equal(t, "modrinth", payload.Plugins[1].ID)
	require.Equal(t, []string{"provide_packages"}, payload.Plugins[1].Hooks)
	require.Empty(t, payload.Warnings)
}

func TestPluginInstallFromLocalRepo(t *testing.T) {
	home := setupAllayHome(t)

	source := t.TempDir()
	repo, err := git.PlainInit(source, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(source, "plugin.yaml"), []byte(`id: modrinth
description: Modrinth provider
executable: run.sh
hooks:
  - provide_packages
capabilities:
  - provider
`), 0o644))
	_, err = wt.Add("plugin.yaml")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Allay", Email: "allay@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	stdout, err := executeAllay("plugin", "install", source, "--id", "modrinth", "--depth", "0")
	require.NoError(t, err)
	require.Contains(t, stdout, "Installed plugin 'modrinth'")
	require.Contains(t, stdout, "provide_packages")

	_, statErr := os.Stat(filepath.Join(pluginsDir(home), "modrinth", "plugin.yaml"))
	require.NoError(t, statErr)

	listOut, err := executeAllay("plugin", "list")
	require.NoError(t, err)
	require.Contains(t, listOut, "modrinth")
}

func TestPluginInstallRejectsRepoWithoutManifest(t *testing.T) {
	setupAllayHome(t)

	source := t.TempDir()
	repo, err := git.PlainInit(source, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(source, "README.md"), []byte("no manifest"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Allay", Email: "allay@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	_, err = executeAllay("plugin", "install", source, "--id", "broken", "--depth", "0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "plugin.yaml")
}
