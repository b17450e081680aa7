package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds process settings. Sources, highest precedence first:
// command-line flags, ROOMS_* environment variables, the optional config file,
// then defaults.
type Config struct {
	Port        int           `mapstructure:"port"`
	Origins     []string      `mapstructure:"origins"`
	MaxRoomSize int           `mapstructure:"max_room_size"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	CoinLayout  string        `mapstructure:"coin_layout"`
	CoinSeed    int64         `mapstructure:"coin_seed"`
	DBPath      string        `mapstructure:"db_path"`
	PublicURL   string        `mapstructure:"public_url"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
}

// LoadConfig parses args and merges every config source
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("rooms", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.Int("port", 3001, "HTTP listen port")
	fs.StringSlice("origins", nil, "allowed WebSocket origins (* for any; empty = same host only)")
	fs.Int("max-room-size", DefaultMaxRoomSize, "players per room")
	fs.Duration("grace-period", DefaultGracePeriod, "how long a dropped player's seat is held (0 = remove immediately)")
	fs.String("coin-layout", "grid", "coin field layout (grid, scatter)")
	fs.Int64("coin-seed", 1, "seed for the scatter layout")
	fs.String("db-path", "", "SQLite file for the room event log (empty = disabled)")
	fs.String("public-url", "", "base URL used in room join links")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "text", "log format (text, json)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{
		"port", "origins", "max-room-size", "grace-period", "coin-layout",
		"coin-seed", "db-path", "public-url", "log-level", "log-format",
	} {
		if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxRoomSize < 1 {
		return fmt.Errorf("max_room_size must be at least 1, got %d", c.MaxRoomSize)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative, got %s", c.GracePeriod)
	}
	switch c.CoinLayout {
	case "grid", "scatter":
	default:
		return fmt.Errorf("unknown coin_layout %q", c.CoinLayout)
	}
	return nil
}
