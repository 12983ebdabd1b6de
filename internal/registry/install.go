package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/allay-dev/allay/internal/logger"
	"github.com/allay-dev/allay/internal/manifest"
)

// InstallOptions configures a plugin installation from a git repository.
type InstallOptions struct {
	// URL of the repository to clone.
	URL string
	// ID overrides the plugin id derived from the repository name. The
	// cloned manifest's id is authoritative once loaded; ID only names the
	// destination directory.
	ID string
	// Ref selects a branch to clone instead of the default.
	Ref string
	// Depth limits clone history when > 0.
	Depth int
}

// Install clones a plugin repository into pluginsDir and validates its
// manifest. A repository without a loadable plugin.yaml is removed again.
func Install(ctx context.Context, pluginsDir string, opts InstallOptions, log *logger.Logger) (*manifest.Manifest, string, error) {
	id := opts.ID
	if id == "" {
		id = deriveIDFromURL(opts.URL)
	}
	if id == "" {
		return nil, "", fmt.Errorf("cannot derive a plugin id from %q; pass one explicitly", opts.URL)
	}

	dest := filepath.Join(pluginsDir, id)
	if _, err := os.Stat(dest); err == nil {
		return nil, "", fmt.Errorf("plugin directory %s already exists", dest)
	}

	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating plugins directory: %w", err)
	}

	cloneOpts := &git.CloneOptions{
		URL:      opts.URL,
		Progress: io.Discard,
	}
	if opts.Depth > 0 {
		cloneOpts.Depth = opts.Depth
	}
	if opts.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Ref)
		cloneOpts.SingleBranch = true
	}

	log.WithFields(map[string]any{"url": opts.URL, "dest": dest}).Info("cloning plugin repository")

	if _, err := git.PlainCloneContext(ctx, dest, false, cloneOpts); err != nil {
		return nil, "", fmt.Errorf("cloning %s: %w", opts.URL, err)
	}

	m, err := manifest.ParseFile(filepath.Join(dest, ManifestName))
	if err != nil {
		_ = os.RemoveAll(dest)
		return nil, "", fmt.Errorf("cloned repository has no loadable %s: %w", ManifestName, err)
	}

	return m, dest, nil
}

func deriveIDFromURL(url string) string {
	base := path.Base(strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.ToLower(base)
}
