package pkgcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const fileVersion = "1"

// cacheFile is the JSON document persisted between invocations. Records keep
// declared order within each package so positional version matching survives
// the round trip.
type cacheFile struct {
	Version  string           `json:"version"`
	SavedAt  time.Time        `json:"saved_at"`
	Packages []PackageVersion `json:"packages"`
}

// SaveFile writes the current snapshot to path atomically.
func (c *Cache) SaveFile(path string) error {
	snap := c.Snapshot()

	file := cacheFile{Version: fileVersion, SavedAt: time.Now().UTC()}
	for _, pkg := range snap.Packages() {
		file.Packages = append(file.Packages, snap.packages[pkg].versions...)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding package cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing package cache: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing package cache: %w", err)
	}

	return nil
}

// LoadFile restores records written by SaveFile into the cache. A missing
// file is not an error; the cache simply starts empty.
func (c *Cache) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading package cache: %w", err)
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing package cache: %w", err)
	}

	var order []string
	grouped := make(map[string][]PackageVersion)
	for _, rec := range file.Packages {
		if _, seen := grouped[rec.Provider]; !seen {
			order = append(order, rec.Provider)
		}
		grouped[rec.Provider] = append(grouped[rec.Provider], rec)
	}

	for _, provider := range order {
		c.Apply(provider, grouped[provider])
	}
	return nil
}
