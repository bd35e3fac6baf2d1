// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads server settings from an optional tablerpc.yaml,
// TABLERPC_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "tablerpc"
	configFileType = "yaml"
	envPrefix      = "TABLERPC"
)

// Config keys.
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyPrefix         = "prefix"
	KeyLocked         = "locked"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyReadLimit      = "read_limit"
	KeyOtel           = "otel"
	KeyServerID       = "server_id"
	KeyOriginPatterns = "origin_patterns"
)

// Config is the resolved server configuration.
type Config struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Prefix         string   `mapstructure:"prefix"`
	Locked         bool     `mapstructure:"locked"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	ReadLimit      int64    `mapstructure:"read_limit"`
	Otel           bool     `mapstructure:"otel"`
	ServerID       string   `mapstructure:"server_id"`
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHost, "127.0.0.1")
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyPrefix, "/tablerpc")
	v.SetDefault(KeyLocked, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyReadLimit, 32<<20)
	v.SetDefault(KeyOtel, false)
	v.SetDefault(KeyServerID, "")
	v.SetDefault(KeyOriginPatterns, []string{})
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"host":            KeyHost,
	"port":            KeyPort,
	"prefix":          KeyPrefix,
	"locked":          KeyLocked,
	"log-level":       KeyLogLevel,
	"log-format":      KeyLogFormat,
	"read-limit":      KeyReadLimit,
	"otel":            KeyOtel,
	"server-id":       KeyServerID,
	"origin-patterns": KeyOriginPatterns,
}

// Load resolves the configuration. configDir is searched for tablerpc.yaml
// when non-empty; a missing file is not an error. flags may be nil. An
// empty server id is replaced with a random UUID.
func Load(configDir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configDir != "" {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1..65535", c.Port))
	}
	if !strings.HasPrefix(c.Prefix, "/") {
		errs = append(errs, fmt.Errorf("prefix %q must start with /", c.Prefix))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("read limit %d must be positive", c.ReadLimit))
	}
	return errors.Join(errs...)
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
