package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all bot configuration
type Config struct {
	Nick        string `mapstructure:"nick" yaml:"nick"`
	NickPass    string `mapstructure:"nick_pass" yaml:"nick_pass"`
	Username    string `mapstructure:"username" yaml:"username"`
	RealName    string `mapstructure:"realname" yaml:"realname"`
	Server      string `mapstructure:"server" yaml:"server"`
	Port        int    `mapstructure:"port" yaml:"port"`
	ServerPass  string `mapstructure:"server_pass" yaml:"server_pass"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	TLSInsecure bool   `mapstructure:"tls_insecure" yaml:"tls_insecure"`

	AutoJoin []string `mapstructure:"autojoin" yaml:"autojoin"`
	// Owners are nick!user@host globs allowed to run admin commands
	Owners []string `mapstructure:"owners" yaml:"owners"`

	IdleInterval time.Duration `mapstructure:"idle_interval" yaml:"idle_interval"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RateCapacity int           `mapstructure:"rate_capacity" yaml:"rate_capacity"`
	RateFill     int           `mapstructure:"rate_fill" yaml:"rate_fill"`
	RateFloor    int           `mapstructure:"rate_floor" yaml:"rate_floor"`

	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	VersionReply string `mapstructure:"version_reply" yaml:"version_reply"`
}

// Default returns a config that connects to a local server.
func Default() Config {
	return Config{
		Nick:         "luna",
		Username:     "luna",
		RealName:     "Luna IRC bot",
		Server:       "localhost",
		Port:         6667,
		AutoJoin:     []string{},
		Owners:       []string{},
		IdleInterval: 125 * time.Millisecond,
		RetryDelay:   time.Second,
		RateCapacity: 512,
		RateFill:     64,
		RateFloor:    128,
		LogLevel:     "info",
		DataDir:      "./data",
	}
}

// Load reads a YAML configuration file, letting LUNA_* environment
// variables override it. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("LUNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := writeDefault(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("nick", cfg.Nick)
	v.SetDefault("nick_pass", cfg.NickPass)
	v.SetDefault("username", cfg.Username)
	v.SetDefault("realname", cfg.RealName)
	v.SetDefault("server", cfg.Server)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("server_pass", cfg.ServerPass)
	v.SetDefault("tls", cfg.TLS)
	v.SetDefault("tls_insecure", cfg.TLSInsecure)
	v.SetDefault("autojoin", cfg.AutoJoin)
	v.SetDefault("owners", cfg.Owners)
	v.SetDefault("idle_interval", cfg.IdleInterval)
	v.SetDefault("retry_delay", cfg.RetryDelay)
	v.SetDefault("rate_capacity", cfg.RateCapacity)
	v.SetDefault("rate_fill", cfg.RateFill)
	v.SetDefault("rate_floor", cfg.RateFloor)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("version_reply", cfg.VersionReply)
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate rejects settings the bot can't run with.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("config: server is required")
	}
	if c.Nick == "" {
		return errors.New("config: nick is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.RateCapacity < 1 || c.RateFill < 1 {
		return errors.New("config: rate_capacity and rate_fill must be positive")
	}
	if c.IdleInterval <= 0 {
		return errors.New("config: idle_interval must be positive")
	}
	return nil
}
