// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tablerpc", cfg.Prefix)
	assert.False(t, cfg.Locked)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, int64(32<<20), cfg.ReadLimit)
	assert.False(t, cfg.Otel)
	assert.NotEmpty(t, cfg.ServerID, "a server id is generated")
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
host: 0.0.0.0
port: 9000
locked: true
log_level: debug
server_id: from-file
origin_patterns:
  - "*.example.com"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tablerpc.yaml"), yaml, 0o644))
	t.Setenv("TABLERPC_PORT", "9100")
	t.Setenv("TABLERPC_LOG_FORMAT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("prefix", "/tablerpc", "")
	flags.String("server-id", "", "")
	require.NoError(t, flags.Parse([]string{"--prefix=/rpc"}))

	cfg, err := Load(dir, flags)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host, "file")
	assert.Equal(t, 9100, cfg.Port, "env beats file")
	assert.Equal(t, "/rpc", cfg.Prefix, "flag")
	assert.True(t, cfg.Locked)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "from-file", cfg.ServerID, "unset flags do not override the file")
	assert.Equal(t, []string{"*.example.com"}, cfg.OriginPatterns)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tablerpc.yaml"), []byte("port: [1"), 0o644))

	_, err := Load(dir, nil)
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("TABLERPC_PORT", "70000")

	_, err := Load("", nil)
	assert.ErrorContains(t, err, "port 70000 out of range")
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Host:      "",
		Port:      0,
		Prefix:    "rpc",
		LogLevel:  "loud",
		LogFormat: "xml",
		ReadLimit: 0,
	}

	err := cfg.Validate()

	require.Error(t, err)
	for _, want := range []string{
		"host must not be empty",
		"port 0 out of range",
		`prefix "rpc" must start with /`,
		`unknown log level "loud"`,
		`unknown log format "xml"`,
		"read limit 0 must be positive",
	} {
		assert.ErrorContains(t, err, want)
	}
}
