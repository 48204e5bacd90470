// Package cliconfig loads the kelp CLI's persistent defaults: the store
// directory, default metric, and output format, from a YAML file so flags
// only need to override what's unusual for a given invocation.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of ~/.kelp/config.yaml. The kelp CLI loads it
// from DefaultPath() before its flags are parsed, so --config does not
// change which file is read, and it applies only StoreDir (as the --store
// default); Metric and JSONOutput are not applied.
type Config struct {
	StoreDir   string `yaml:"store_dir"`
	Metric     string `yaml:"metric"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns a Config with the CLI's built-in defaults, used when no
// config file exists.
func Default() Config {
	return Config{StoreDir: "./kelp-data", Metric: "cosine"}
}

// Load reads path, falling back to Default() if the file doesn't exist.
// A present-but-malformed file is an error: silently ignoring garbage
// config is worse than failing loudly.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("cliconfig: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cliconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.kelp/config.yaml, the CLI's conventional config
// location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kelp/config.yaml"
	}
	return filepath.Join(home, ".kelp", "config.yaml")
}
