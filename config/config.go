package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Router RouterConfig `mapstructure:"router"`
	HTTP   HTTPConfig   `mapstructure:"http"`

	v *viper.Viper
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type RouterConfig struct {
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig reads the optional configuration file and overlays RELAY_
// prefixed environment variables on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("store.dir", "data/records")
	v.SetDefault("router.breaker_max_failures", 5)
	v.SetDefault("router.breaker_cooldown", "30s")
	v.SetDefault("http.addr", ":8600")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the configuration file on change and hands the fresh config
// to fn. A config loaded purely from defaults and environment has nothing to
// watch.
func (c *Config) Watch(fn func(*Config)) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(fsnotify.Event) {
		fresh := &Config{v: c.v}
		if err := c.v.Unmarshal(fresh); err != nil {
			return
		}
		fn(fresh)
	})
	c.v.WatchConfig()
}

// ParseLevel maps the configured level name onto a slog level, defaulting to
// info for unknown names.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
