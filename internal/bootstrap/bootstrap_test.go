// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Engine)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	path := writeConfig(t, `
engine: memory
library: /opt/sqlite/libsqlite3.so
log_level: debug
log_format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Engine)
	assert.Equal(t, "/opt/sqlite/libsqlite3.so", cfg.Library)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad engine", "engine: postgres\n"},
		{"bad log format", "log_format: xml\n"},
		{"bad log level", "log_level: loud\n"},
		{"not yaml", "engine: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		cfg := &Config{LogLevel: "warn", LogFormat: format}
		require.NotNil(t, SetupLogger(cfg))
	}
}

func TestNewRuntime_Memory(t *testing.T) {
	cfg := &Config{Engine: "memory", LogLevel: "info", LogFormat: "text"}
	rt, info, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, "memory", info.Kind)
	assert.Equal(t, "builtin", info.Source)
	assert.NotEmpty(t, info.Version)

	c, err := rt.Open(bridge.NewToken(), ":memory:")
	require.NoError(t, err)
	assert.Equal(t, capi.OK, c.Close())
}

func TestNewRuntime_UnknownEngine(t *testing.T) {
	_, _, err := NewRuntime(&Config{Engine: "bogus"}, nil)
	assert.Error(t, err)
}
