package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allay-dev/allay/internal/hook"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

const validManifest = `
id: modrinth
description: Installs mods from the Modrinth catalog
executable: ./modrinth-plugin
hooks:
  - on_load
  - provide_packages
  - install_package
  - uninstall_package
capabilities:
  - provider
  - installer
custom_config:
  api_url: https://api.example.com/v2
  page_size: 50
`

func TestParseValidManifest(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "modrinth", m.ID)
	assert.Equal(t, "./modrinth-plugin", m.Executable)
	assert.Len(t, m.Hooks, 4)
	assert.True(t, m.Subscribes(hook.ProvidePackages))
	assert.False(t, m.Subscribes(hook.Name("no_such_hook")))
	assert.True(t, m.Has(CapabilityProvider))
	assert.True(t, m.Has(CapabilityInstaller))
	assert.False(t, m.Has(CapabilityObserver))
	assert.Equal(t, "https://api.example.com/v2", m.CustomConfig["api_url"])
	assert.Equal(t, 50, m.CustomConfig["page_size"])
}

func TestParseRejectsBadID(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("id: Modrinth\nexecutable: ./p\n"))

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Field, "id")
}

func TestParseRejectsUnknownHook(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("id: modrinth\nexecutable: ./p\nhooks: [before_world_load]\n"))

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestParseRejectsUnknownCapability(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("id: modrinth\nexecutable: ./p\ncapabilities: [root]\n"))

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestParseRejectsDuplicateHooks(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("id: modrinth\nexecutable: ./p\nhooks: [on_load, on_load]\n"))

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "duplicate hook")
}

func TestParseRejectsMissingExecutable(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("id: modrinth\n"))

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Field, "executable")
}

func TestParseFileReportsLineOnBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: modrinth\nexecutable: [\n  broken\n"), 0o644))

	_, err := ParseFile(path)

	var manifestErr *allayerrors.ManifestError
	require.ErrorAs(t, err, &manifestErr)
	assert.Equal(t, path, manifestErr.Path)
	assert.Greater(t, manifestErr.Line, 0)
}

func TestParseFileMissingFile(t *testing.T) {
	t.Parallel()

	_, err := ParseFile(filepath.Join(t.TempDir(), "absent.yaml"))

	var manifestErr *allayerrors.ManifestError
	require.ErrorAs(t, err, &manifestErr)
}

func TestParseFileKeepsValidationErrorType(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: BAD-ID\nexecutable: ./p\n"), 0o644))

	_, err := ParseFile(path)

	var validationErr *allayerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
