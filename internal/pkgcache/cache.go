// Package pkgcache holds the package metadata reported by provider plugins.
// Readers work against immutable snapshots, so a sync landing mid-resolution
// never changes the data a resolver already started from.
package pkgcache

import (
	"sort"
	"strings"
	"sync"

	"github.com/allay-dev/allay/internal/version"
)

// Dependency names a package a version requires, with a version constraint.
type Dependency struct {
	Package    string          `json:"package"`
	Constraint version.Pattern `json:"constraint"`
}

// PackageVersion is one installable version of one package. Versions of a
// package are kept in declared order, oldest first; the last declared
// version is the newest.
type PackageVersion struct {
	Package      string       `json:"package"`
	Version      string       `json:"version"`
	Provider     string       `json:"provider"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Conflicts    []string     `json:"conflicts,omitempty"`
	Extensions   []string     `json:"extensions,omitempty"`
}

type packageEntry struct {
	provider string
	versions []PackageVersion
}

// Snapshot is an immutable view of the cache. Entries never change once a
// snapshot is published; Apply builds a new snapshot instead.
type Snapshot struct {
	generation uint64
	packages   map[string]*packageEntry
}

// Generation increments on every applied sync, newest snapshot highest.
func (s *Snapshot) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.generation
}

// Has reports whether any version of the package is known.
func (s *Snapshot) Has(pkg string) bool {
	if s == nil {
		return false
	}
	_, ok := s.packages[Normalize(pkg)]
	return ok
}

// Provider returns the plugin id owning the package's metadata.
func (s *Snapshot) Provider(pkg string) (string, bool) {
	if s == nil {
		return "", false
	}
	entry, ok := s.packages[Normalize(pkg)]
	if !ok {
		return "", false
	}
	return entry.provider, true
}

// Versions returns the package's declared version ids, oldest first.
func (s *Snapshot) Versions(pkg string) []string {
	if s == nil {
		return nil
	}
	entry, ok := s.packages[Normalize(pkg)]
	if !ok {
		return nil
	}
	out := make([]string, len(entry.versions))
	for i, v := range entry.versions {
		out[i] = v.Version
	}
	return out
}

// Get returns the record for one exact version of a package.
func (s *Snapshot) Get(pkg, ver string) (PackageVersion, bool) {
	if s == nil {
		return PackageVersion{}, false
	}
	entry, ok := s.packages[Normalize(pkg)]
	if !ok {
		return PackageVersion{}, false
	}
	for _, v := range entry.versions {
		if v.Version == ver {
			return v, true
		}
	}
	return PackageVersion{}, false
}

// Packages returns every known package id, sorted.
func (s *Snapshot) Packages() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.packages))
	for id := range s.packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProviderPackages returns the package ids owned by one provider, sorted.
func (s *Snapshot) ProviderPackages(provider string) []string {
	if s == nil {
		return nil
	}
	var ids []string
	for id, entry := range s.packages {
		if entry.provider == provider {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Normalize folds a package id to its canonical form. Ids are matched
// case-insensitively everywhere.
func Normalize(pkg string) string {
	return strings.ToLower(strings.TrimSpace(pkg))
}

// Cache is the shared mutable holder of the current snapshot.
type Cache struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache starts empty at generation zero.
func NewCache() *Cache {
	return &Cache{snap: &Snapshot{packages: make(map[string]*packageEntry)}}
}

// Snapshot returns the current snapshot. Callers keep reading a consistent
// view even while later syncs apply.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Apply replaces the provider's entire subset with records. Packages the
// provider previously reported but omits now are dropped. Records for a
// package owned by a different provider are skipped, not stolen; the skipped
// count reports them along with records lacking a package or version id and
// duplicate versions within the batch. Returns the new snapshot.
func (c *Cache) Apply(provider string, records []PackageVersion) (*Snapshot, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	skipped := 0
	next := make(map[string]*packageEntry, len(c.snap.packages)+len(records))
	for id, entry := range c.snap.packages {
		if entry.provider != provider {
			next[id] = entry
		}
	}

	for _, rec := range records {
		id := Normalize(rec.Package)
		if id == "" || strings.TrimSpace(rec.Version) == "" {
			skipped++
			continue
		}

		entry, exists := next[id]
		if exists && entry.provider != provider {
			skipped++
			continue
		}
		if !exists {
			entry = &packageEntry{provider: provider}
			next[id] = entry
		}
		if hasVersion(entry.versions, rec.Version) {
			skipped++
			continue
		}

		rec.Package = id
		rec.Provider = provider
		entry.versions = append(entry.versions, rec)
	}

	c.snap = &Snapshot{generation: c.snap.generation + 1, packages: next}
	return c.snap, skipped
}

func hasVersion(versions []PackageVersion, ver string) bool {
	for _, v := range versions {
		if v.Version == ver {
			return true
		}
	}
	return false
}
