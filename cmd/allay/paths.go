package main

import (
	"os"
	"path/filepath"
)

// allayHome resolves the directory holding plugins, the instance store,
// and the package cache. Precedence: --home flag, ALLAY_HOME, ~/.allay.
func allayHome(override string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}
	if env := os.Getenv("ALLAY_HOME"); env != "" {
		return filepath.Abs(env)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".allay"), nil
}

func pluginsDir(home string) string {
	return filepath.Join(home, "plugins")
}

// pluginDataDir is handed to plugins as ALLAY_DATA_DIR for their own
// persistent state.
func pluginDataDir(home string) string {
	return filepath.Join(home, "data")
}

func instancesPath(home string) string {
	return filepath.Join(home, "instances.json")
}

func packageCachePath(home string) string {
	return filepath.Join(home, "pkgcache.json")
}
