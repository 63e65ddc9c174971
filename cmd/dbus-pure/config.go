package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// fileConfig is the optional TOML config file: connection settings
// that would otherwise come from flags or the environment.
type fileConfig struct {
	BusPath      string `toml:"bus_path"`
	AuthIdentity string `toml:"auth_identity"`
}

// loadConfig reads the config file at path. A missing file is not an
// error unless the path was given explicitly.
func loadConfig(path string, explicit bool) (fileConfig, error) {
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
