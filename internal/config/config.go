// Package config loads the --server daemon's named module list: the one
// piece of session configuration structured enough to warrant a file
// format, grounded in the teacher's rsyncd.Module/Server shape
// (internal/rsyncd/rsyncd.go) and decoded with github.com/BurntSushi/toml.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Module is one named sync root a --server process is willing to serve.
type Module struct {
	Path          string `toml:"path"`
	ReadOnly      bool   `toml:"read_only"`
	DeleteEnabled bool   `toml:"delete_enabled"`
}

// Config is the top-level daemon configuration file shape.
type Config struct {
	Modules map[string]Module `toml:"modules"`
}

// Load decodes a daemon config file from path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &c, nil
}

// Module looks up a named module, mirroring the teacher's Server.getModule.
func (c *Config) Module(name string) (Module, error) {
	m, ok := c.Modules[name]
	if !ok {
		return Module{}, fmt.Errorf("config: no such module %q", name)
	}
	return m, nil
}
