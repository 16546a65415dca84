package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/telemetry"
)

// DefaultBuildCommand is the build command template used when none is configured.
const DefaultBuildCommand = "conda build --no-anaconda-upload {{.RecipeDir}}"

// Config is the arbiter configuration file.
type Config struct {
	// Target is the platform plans are computed for.
	Target string `yaml:"target" validate:"required,oneof=linux osx win"`

	// AllowExternal treats requirements naming no known recipe as supplied
	// by the base toolchain instead of failing with UnresolvedDependency.
	AllowExternal bool `yaml:"allow_external"`

	// External names are always supplied by the base toolchain.
	External []string `yaml:"external" validate:"dive,required"`

	// RecipeRoots are the directories searched for recipes.
	RecipeRoots []string `yaml:"recipe_roots" validate:"min=1,dive,required"`

	Store     StoreConfig      `yaml:"store"`
	Policy    PolicyConfig     `yaml:"policy"`
	Build     BuildConfig      `yaml:"build"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the plan history database.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`
}

// PolicyConfig configures recipe lint policies.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths are extra .rego files or directories to load.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Disabled names built-in or loaded policies to skip.
	Disabled []string `yaml:"disabled" validate:"dive,required"`
}

// BuildConfig configures the exec build executor.
type BuildConfig struct {
	// Command is a text/template rendered per plan step.
	Command string `yaml:"command" validate:"required"`

	// Shell runs the rendered command with "-c".
	Shell string `yaml:"shell" validate:"required"`

	// Env is added to the environment of every build.
	Env map[string]string `yaml:"env"`

	// Timeout bounds a single recipe build. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// WorkDir holds unpacked and patched source trees.
	WorkDir string `yaml:"work_dir" validate:"required"`

	// SourceCache holds pre-fetched source archives and checkouts.
	SourceCache string `yaml:"source_cache"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Target:        string(HostPlatform()),
		AllowExternal: true,
		RecipeRoots:   []string{"."},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Build: BuildConfig{
			Command:     DefaultBuildCommand,
			Shell:       "sh",
			WorkDir:     filepath.Join(".arbiter", "work"),
			SourceCache: filepath.Join(".arbiter", "src"),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// HostPlatform maps the running OS to a build target. Unknown systems
// are treated as linux.
func HostPlatform() engine.Platform {
	switch runtime.GOOS {
	case "darwin":
		return engine.PlatformOSX
	case "windows":
		return engine.PlatformWin
	default:
		return engine.PlatformLinux
	}
}

// Load reads a configuration file on top of Default and validates the
// result. Files ending in .cue are evaluated as CUE; anything else is YAML.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		data, err = cueToYAML(path, data)
		if err != nil {
			return nil, err
		}
	}

	if err := decodeYAML(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field constraints and the telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Platform returns the configured target.
func (c *Config) Platform() (engine.Platform, error) {
	return engine.ParsePlatform(c.Target)
}

// ResolveOptions returns the requirement resolution settings.
func (c *Config) ResolveOptions() engine.ResolveOptions {
	return engine.ResolveOptions{
		AllowExternal: c.AllowExternal,
		External:      append([]string(nil), c.External...),
	}
}
