package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: server.port is read from
// OPTIFLOW_SERVER_PORT.
const EnvPrefix = "OPTIFLOW"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v)
	return v
}

// Load reads the YAML file at path, applies OPTIFLOW_* overrides and
// defaults, and validates the result.  An empty path loads from the
// environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromEnv()
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return finalize(v)
}

// LoadFromEnv builds a Config from defaults and OPTIFLOW_* variables.
func LoadFromEnv() (*Config, error) {
	return finalize(newViper())
}

func finalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch re-reads path on every write and calls onChange with the new
// Config.  Invalid edits are reported to onError and otherwise ignored.
// Only hot-reloadable settings such as log.level should be applied by the
// callback.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := finalize(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("config: reload %q: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load for main packages: it panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

//Personal.AI order the ending
