// Package config resolves run settings from defaults, an optional YAML file
// and TRIANGULATE_* environment variables. Command-line flags are applied
// on top by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the project directory holding work and config files.
const DirName = ".riviere"

// FileName is the config file inside DirName.
const FileName = "triangulate.yaml"

// Config is the resolved configuration. Relative paths are relative to
// ProjectRoot until Resolve is called.
type Config struct {
	ProjectRoot string `yaml:"-"`

	WorkDir   string `yaml:"workDir"`
	ConfigDir string `yaml:"configDir"`
	DBPath    string `yaml:"db"`

	Consolidate ConsolidateConfig `yaml:"consolidate"`
	Rules       RulesConfig       `yaml:"rules"`
	Domains     DomainsConfig     `yaml:"domains"`
	Replay      ReplayConfig      `yaml:"replay"`
	Log         LogConfig         `yaml:"log"`
}

type ConsolidateConfig struct {
	Prefix          string `yaml:"prefix"`
	Output          string `yaml:"output"`
	KeyField        string `yaml:"keyField"`
	MaxEditDistance int    `yaml:"maxEditDistance"`
	Concurrency     int    `yaml:"concurrency"`
}

type RulesConfig struct {
	Prefix         string `yaml:"prefix"`
	RegistryFormat string `yaml:"registryFormat"`
}

type DomainsConfig struct {
	Prefix string `yaml:"prefix"`
}

// ReplayConfig configures staged command replay.
type ReplayConfig struct {
	// Prefixes maps a replay kind to its staged log prefix.
	Prefixes        map[string]string `yaml:"prefixes"`
	ValidateTimeout time.Duration     `yaml:"validateTimeout"`
	Exec            ExecConfig        `yaml:"exec"`
}

// ExecConfig configures the external store CLI.
type ExecConfig struct {
	Command   []string      `yaml:"command"`
	GraphPath string        `yaml:"graph"`
	Marker    string        `yaml:"marker"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Replay kinds.
const (
	KindComponents  = "components"
	KindLinks       = "links"
	KindEnrichments = "enrichments"
)

// Default returns the built-in configuration for projectRoot.
func Default(projectRoot string) *Config {
	return &Config{
		ProjectRoot: projectRoot,
		WorkDir:     filepath.Join(DirName, "work"),
		ConfigDir:   filepath.Join(DirName, "config"),
		DBPath:      filepath.Join(DirName, "graph.db"),
		Consolidate: ConsolidateConfig{
			Prefix:          "meta-",
			Output:          "triangulated.jsonl",
			KeyField:        "name",
			MaxEditDistance: 2,
			Concurrency:     4,
		},
		Rules:   RulesConfig{Prefix: "rules-", RegistryFormat: "json"},
		Domains: DomainsConfig{Prefix: "domains-"},
		Replay: ReplayConfig{
			Prefixes: map[string]string{
				KindComponents:  "extract-",
				KindLinks:       "link-staged-",
				KindEnrichments: "annotate-staged-",
			},
			ValidateTimeout: 2 * time.Minute,
			Exec: ExecConfig{
				Command:   []string{"npx", "riviere", "builder"},
				GraphPath: filepath.Join(DirName, "graph.json"),
				Marker:    "RiviereSchemaValidationError",
				Timeout:   time.Minute,
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration for projectRoot. path names the YAML file;
// empty means <projectRoot>/.riviere/triangulate.yaml, which may be absent.
// An explicitly named file must exist.
func Load(projectRoot, path string) (*Config, error) {
	cfg := Default(projectRoot)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(projectRoot, DirName, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TRIANGULATE_WORK_DIR", &c.WorkDir)
	str("TRIANGULATE_CONFIG_DIR", &c.ConfigDir)
	str("TRIANGULATE_DB", &c.DBPath)
	str("TRIANGULATE_LOG_LEVEL", &c.Log.Level)
	str("TRIANGULATE_LOG_FORMAT", &c.Log.Format)
	str("TRIANGULATE_GRAPH", &c.Replay.Exec.GraphPath)

	if v, ok := lookup("TRIANGULATE_VALIDATE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TRIANGULATE_VALIDATE_TIMEOUT: %w", err)
		}
		c.Replay.ValidateTimeout = d
	}
	if v, ok := lookup("TRIANGULATE_MAX_EDIT_DISTANCE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRIANGULATE_MAX_EDIT_DISTANCE: %w", err)
		}
		c.Consolidate.MaxEditDistance = n
	}
	return nil
}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Rules.RegistryFormat {
	case "json", "yaml":
	default:
		return fmt.Errorf("rules.registryFormat must be json or yaml, got %q", c.Rules.RegistryFormat)
	}
	if c.Replay.ValidateTimeout <= 0 {
		return fmt.Errorf("replay.validateTimeout must be positive")
	}
	for _, kind := range []string{KindComponents, KindLinks, KindEnrichments} {
		if c.Replay.Prefixes[kind] == "" {
			return fmt.Errorf("replay.prefixes.%s must be set", kind)
		}
	}
	return nil
}

// Path resolves p against ProjectRoot unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectRoot, p)
}

// OutputPath is the consolidated log location.
func (c *Config) OutputPath() string {
	out := c.Consolidate.Output
	if filepath.IsAbs(out) || filepath.Dir(out) != "." {
		return c.Path(out)
	}
	return filepath.Join(c.Path(c.WorkDir), out)
}

// ReplayPrefix returns the staged log prefix for kind.
func (c *Config) ReplayPrefix(kind string) (string, error) {
	p, ok := c.Replay.Prefixes[kind]
	if !ok {
		return "", fmt.Errorf("unknown replay kind %q (want components, links or enrichments)", kind)
	}
	return p, nil
}
