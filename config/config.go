// Package config loads the server configuration.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load, e.g.
// PGWIRE_LOG_LEVEL=debug.
const EnvPrefix = "PGWIRE"

type Config struct {
	// Host and Port of the first listener. Listeners is the number of
	// listeners started on consecutive ports.
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Listeners int    `mapstructure:"listeners"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is either "console" or "json".
	LogFormat string `mapstructure:"log_format"`

	// MetricsAddr is the address of the prometheus endpoint, disabled
	// when empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

var defaults = map[string]interface{}{
	"host":         "",
	"port":         5432,
	"listeners":    1,
	"log_level":    "info",
	"log_format":   "console",
	"metrics_addr": "",
}

// Load reads the configuration into cfg. Precedence, highest first: flags
// bound to v, PGWIRE_* environment variables, the optional config file at
// path, defaults.
func Load(v *viper.Viper, path string) (Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return cfg, errors.Wrapf(err, "bind env %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal config")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.Listeners < 1 || c.Port+c.Listeners-1 > 65535 {
		return errors.Errorf("invalid listener count %d", c.Listeners)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
