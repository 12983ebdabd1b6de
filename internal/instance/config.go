package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/allay-dev/allay/internal/validation"
	"github.com/allay-dev/allay/internal/version"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

// Config is one user-authored instance description (instance.yaml).
type Config struct {
	Instance Meta             `yaml:"instance" validate:"required"`
	Packages []PackageRequest `yaml:"packages" validate:"dive"`

	// Path records where the config was loaded from. It is not part of
	// the document itself.
	Path string `yaml:"-" validate:"-"`
}

// Meta identifies the instance and the directory its content lives in.
type Meta struct {
	ID  string `yaml:"id" validate:"required,instance_id"`
	Dir string `yaml:"dir" validate:"required"`
}

// PackageRequest is one requested package. In YAML it is either a bare id
// string or an {id, version} mapping with a version pattern.
type PackageRequest struct {
	ID      string          `validate:"required,package_id"`
	Version version.Pattern `validate:"-"`
}

// UnmarshalYAML accepts both request forms. Package ids are folded to
// lowercase so lookups stay case-insensitive.
func (p *PackageRequest) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var id string
		if err := value.Decode(&id); err != nil {
			return err
		}
		p.ID = foldID(id)
		p.Version = version.Any
		return nil

	case yaml.MappingNode:
		var raw struct {
			ID      string `yaml:"id"`
			Version string `yaml:"version"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		pattern, err := version.Parse(raw.Version)
		if err != nil {
			return fmt.Errorf("line %d: package %q: %w", value.Line, raw.ID, err)
		}
		p.ID = foldID(raw.ID)
		p.Version = pattern
		return nil

	default:
		return fmt.Errorf("line %d: package entry must be a string or an {id, version} mapping", value.Line)
	}
}

func foldID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// LoadConfig reads, parses, and validates an instance config from disk.
// The instance dir is normalized: a leading ~ expands to the home
// directory and relative paths resolve against the config file's
// directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, allayerrors.NewManifestError(path, 0, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		var validationErr *allayerrors.ValidationError
		if errors.As(err, &validationErr) {
			return nil, err
		}
		return nil, allayerrors.NewManifestError(path, validation.ExtractLine(err), err)
	}

	dir, err := resolveDir(cfg.Instance.Dir, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.Instance.Dir = dir
	cfg.Path = path

	return cfg, nil
}

// Parse decodes and validates config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate performs schema validation on a parsed config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return allayerrors.NewValidationError("config", "config is nil", nil)
	}

	if err := validation.Instance().Struct(cfg); err != nil {
		return validation.Convert(err)
	}

	seen := make(map[string]struct{}, len(cfg.Packages))
	for i, p := range cfg.Packages {
		if _, dup := seen[p.ID]; dup {
			return allayerrors.NewValidationError(
				fmt.Sprintf("packages[%d].id", i),
				fmt.Sprintf("duplicate package %q", p.ID),
				nil,
			)
		}
		seen[p.ID] = struct{}{}
	}

	return nil
}

// Record seeds a store record for a freshly registered instance.
func (c *Config) Record() Record {
	return Record{
		ID:    c.Instance.ID,
		Path:  c.Path,
		Dir:   c.Instance.Dir,
		State: StateIdle,
	}
}

func resolveDir(dir, base string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding ~ in instance dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}
	return filepath.Clean(dir), nil
}
