package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/allay-dev/allay/internal/pkgcache"
	verpat "github.com/allay-dev/allay/internal/version"
)

// seedPackageCache persists a provider catalog the way a previous
// 'allay sync' would have.
func seedPackageCache(t *testing.T, home string) {
	t.Helper()

	cache := pkgcache.NewCache()
	cache.Apply("modrinth", []pkgcache.PackageVersion{
		{Package: "fabric-api", Version: "0.91.0"},
		{Package: "fabric-api", Version: "0.92.0"},
		{Package: "sodium", Version: "5.1.2", Dependencies: []pkgcache.Dependency{
			{Package: "fabric-api", Constraint: verpat.MustParse("0.91.0+")},
		}},
	})
	require.NoError(t, cache.SaveFile(packageCachePath(home)))
}

func TestResolveCommandPrintsPlan(t *testing.T) {
	home := setupAllayHome(t)
	seedPackageCache(t, home)
	configPath := writeInstanceConfig(t, "smp", "sodium")

	stdout, err := executeAllay("resolve", configPath)
	require.NoError(t, err)

	require.Contains(t, stdout, "Instance: smp")
	require.Contains(t, stdout, "PACKAGE")
	require.Contains(t, stdout, "(requested)")
	require.Contains(t, stdout, "+ install fabric-api 0.92.0")
	require.Contains(t, stdout, "+ install sodium 5.1.2")
	require.Contains(t, stdout, "2 to install, 0 to remove.")

	// dependencies are listed before their dependents
	require.Less(t, strings.Index(stdout, "fabric-api"), strings.Index(stdout, "sodium"))
}

func TestResolveCommandJSONOutput(t *testing.T) {
	home := setupAllayHome(t)
	seedPackageCache(t, home)
	configPath := writeInstanceConfig(t, "smp", "sodium")

	stdout, err := executeAllay("resolve", configPath, "--json")
	require.NoError(t, err)

	var payload struct {
		Version  string `json:"version"`
		Instance string `json:"instance"`
		Count    int    `json:"count"`
		Packages []struct {
			Package    string   `json:"package"`
			Version    string   `json:"version"`
			Provider   string   `json:"provider"`
			RequiredBy []string `json:"required_by"`
		} `json:"packages"`
		ToInstall []struct {
			Package string `json:"package"`
			Version string `json:"version"`
		} `json:"to_install"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &payload))
	require.Equal(t, "1.0", payload.Version)
	require.Equal(t, "smp", payload.Instance)
	require.Equal(t, 2, payload.Count)
	require.Len(t, payload.Packages, 2)
	require.Equal(t, "fabric-api", payload.Packages[0].Package)
	require.Equal(t, "0.92.0", payload.Packages[0].Version)
	require.Equal(t, []string{"sodium"}, payload.Packages[0].RequiredBy)
	require.Equal(t, "sodium", payload.Packages[1].Package)
	require.Equal(t, "modrinth", payload.Packages[1].Provider)
	require.Len(t, payload.ToInstall, 2)
}

func TestResolveCommandUnknownPackage(t *testing.T) {
	home := setupAllayHome(t)
	seedPackageCache(t, home)
	configPath := writeInstanceConfig(t, "smp", "ghost")

	_, err := executeAllay("resolve", configPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
	require.Contains(t, err.Error(), "allay sync")
}

func TestResolveCommandEmptyPackages(t *testing.T) {
	setupAllayHome(t)
	configPath := writeInstanceConfig(t, "lobby")

	stdout, err := executeAllay("resolve", configPath)
	require.NoError(t, err)
	require.Contains(t, stdout, "No packages requested.")
}
