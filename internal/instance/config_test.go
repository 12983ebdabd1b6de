package instance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "instance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigParsesBothPackageForms(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: smp
  dir: /srv/smp
packages:
  - Sodium
  - id: lithium
    version: "0.10.0+"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "smp", cfg.Instance.ID)
	assert.Equal(t, "/srv/smp", cfg.Instance.Dir)
	assert.Equal(t, path, cfg.Path)

	require.Len(t, cfg.Packages, 2)
	assert.Equal(t, "sodium", cfg.Packages[0].ID, "bare ids fold to lowercase")
	assert.Equal(t, "*", cfg.Packages[0].Version.String())
	assert.Equal(t, "lithium", cfg.Packages[1].ID)
	assert.Equal(t, "0.10.0+", cfg.Packages[1].Version.String())
}

func TestLoadConfigAllowsEmptyPackages(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: vanilla
  dir: /srv/vanilla
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Packages)
}

func TestLoadConfigResolvesDir(t *testing.T) {
	t.Run("relative to config file", func(t *testing.T) {
		path := writeConfig(t, `
instance:
  id: smp
  dir: server
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "server"), cfg.Instance.Dir)
	})

	t.Run("tilde expands to home", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)

		path := writeConfig(t, `
instance:
  id: smp
  dir: ~/worlds/smp
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "worlds", "smp"), cfg.Instance.Dir)
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	var manifestErr *allayerrors.ManifestError
	assert.ErrorAs(t, err, &manifestErr)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "instance:\n\tid: smp\n")

	_, err := LoadConfig(path)
	require.Error(t, err)

	var manifestErr *allayerrors.ManifestError
	require.ErrorAs(t, err, &manifestErr)
	assert.Positive(t, manifestErr.Line)
}

func TestLoadConfigRejectsBadVersionPattern(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: smp
  dir: /srv/smp
packages:
  - id: sodium
    version: "..2.0"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)

	var manifestErr *allayerrors.ManifestError
	require.ErrorAs(t, err, &manifestErr)
	assert.Positive(t, manifestErr.Line)
	assert.Contains(t, err.Error(), "sodium")
}

func TestLoadConfigRejectsInvalidInstanceID(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: My SMP
  dir: /srv/smp
`)

	_, err := LoadConfig(path)
	require.Error(t, err)

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Field, "instance.id")
}

func TestLoadConfigRejectsDuplicatePackages(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: smp
  dir: /srv/smp
packages:
  - sodium
  - id: Sodium
    version: "1.2.0"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "packages[1].id", validationErr.Field)
}

func TestParseRejectsWrongPackageNodeKind(t *testing.T) {
	_, err := Parse([]byte(`
instance:
  id: smp
  dir: /srv/smp
packages:
  - [not, valid]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a string")
}

func TestConfigRecordSeedsIdleRecord(t *testing.T) {
	cfg := &Config{
		Instance: Meta{ID: "smp", Dir: "/srv/smp"},
		Path:     "/etc/allay/smp.yaml",
	}

	rec := cfg.Record()
	assert.Equal(t, "smp", rec.ID)
	assert.Equal(t, "/etc/allay/smp.yaml", rec.Path)
	assert.Equal(t, "/srv/smp", rec.Dir)
	assert.Equal(t, StateIdle, rec.State)
	assert.Empty(t, rec.Installed)
}
