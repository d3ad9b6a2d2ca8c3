// Package config loads compositor configuration from the XDG config
// directories.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"deedles.dev/tatami/tile"
	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"
)

// Config is the on-disk configuration. Zero values mean defaults.
type Config struct {
	// Socket overrides the display socket name.
	Socket string `toml:"socket"`

	// LogLevel is a logrus level name, e.g. "info" or "debug".
	LogLevel string `toml:"log_level"`

	// Layout selects the tiling strategy: "split" or "monocle".
	Layout string `toml:"layout"`

	// Gap is the pixel gap between tiled windows.
	Gap int `toml:"gap"`
}

// Default is the configuration used when no file exists.
var Default = Config{
	LogLevel: "info",
	Layout:   "split",
}

// Path returns the location of the user's config file, whether or not
// it exists.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "tatami", "config.toml")
}

// Load reads the configuration from path, or from the default XDG
// location if path is empty. A missing file is not an error: the
// defaults are returned.
func Load(path string) (Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(filepath.Join("tatami", "config.toml"))
		if err != nil {
			return Default, nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default, nil
		}
		return Default, fmt.Errorf("read config: %w", err)
	}

	cfg := Default
	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return Default, fmt.Errorf("parse %v: %w", path, err)
	}
	return cfg, nil
}

// Strategy returns the tiling strategy the configuration selects.
func (cfg Config) Strategy() (tile.Strategy, error) {
	switch cfg.Layout {
	case "", "split":
		return tile.Split{Gap: cfg.Gap}, nil
	case "monocle":
		return tile.Monocle{}, nil
	}
	return nil, fmt.Errorf("unknown layout %q", cfg.Layout)
}
