// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
	"github.com/kraklabs/sqlbridge/pkg/libsqlite"
	"github.com/kraklabs/sqlbridge/pkg/memengine"
)

// Config holds runtime configuration, loaded from YAML.
type Config struct {
	// Engine selects the backing engine: "sqlite" loads the native shared
	// library, "memory" uses the in-process engine. Defaults to "sqlite".
	Engine string `yaml:"engine"`

	// Library is the path to the SQLite shared library. Empty means the
	// platform default search list.
	Library string `yaml:"library"`

	// LogLevel is one of "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json". Defaults to "text".
	LogFormat string `yaml:"log_format"`
}

// DefaultConfigPath returns ~/.sqlbridge/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(homeDir, ".sqlbridge", "config.yaml"), nil
}

// LoadConfig reads a YAML config file and applies defaults. A missing file
// is not an error: defaults are returned. An empty path means the default
// location.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine == "" {
		c.Engine = "sqlite"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) validate() error {
	switch c.Engine {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown engine %q (want \"sqlite\" or \"memory\")", c.Engine)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want \"text\" or \"json\")", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", s)
}

// SetupLogger builds a slog.Logger per the config. Logs go to stderr so
// stdout stays clean for command output.
func SetupLogger(cfg *Config) *slog.Logger {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// EngineInfo describes the engine a Runtime was built around.
type EngineInfo struct {
	// Kind is "sqlite" or "memory".
	Kind string

	// Source is the library path for a native engine, or "builtin".
	Source string

	// Version is the engine's version string.
	Version string

	// Caps are the engine's optional-family flags.
	Caps capi.Capability
}

// NewRuntime builds a bridge.Runtime for the configured engine.
//
// For the "sqlite" engine it loads the shared library (cfg.Library, or the
// platform default search list when empty). For "memory" it starts the
// in-process engine, which exists mainly for smoke-testing a deployment
// without a native library.
func NewRuntime(cfg *Config, logger *slog.Logger) (*bridge.Runtime, *EngineInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Engine {
	case "memory":
		eng := memengine.New()
		rt, err := bridge.New(eng.API(), bridge.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("build runtime: %w", err)
		}
		logger.Debug("bootstrap.runtime.ready", "engine", "memory")
		return rt, &EngineInfo{
			Kind:    "memory",
			Source:  "builtin",
			Version: memengine.Version,
			Caps:    eng.API().Caps,
		}, nil

	case "sqlite":
		logger.Debug("bootstrap.library.load", "path", cfg.Library)
		lib, err := libsqlite.Load(cfg.Library)
		if err != nil {
			return nil, nil, fmt.Errorf("load library: %w", err)
		}
		rt, err := bridge.New(lib.API(), bridge.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("build runtime: %w", err)
		}
		source := cfg.Library
		if source == "" {
			source = strings.Join(libsqlite.DefaultPaths(), ":")
		}
		logger.Info("bootstrap.runtime.ready",
			"engine", "sqlite",
			"version", lib.Version(),
			"caps", lib.Caps().String(),
		)
		return rt, &EngineInfo{
			Kind:    "sqlite",
			Source:  source,
			Version: lib.Version(),
			Caps:    lib.Caps(),
		}, nil
	}

	return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}
