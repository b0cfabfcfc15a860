package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	fileName          = "config.toml"
	envPrefix         = "RELAY"
	apiKeyPlaceholder = "<API Key>"
)

// ErrTemplateCreated is returned by Load when no config file existed and a
// template was written in its place. The operator must fill it in and
// restart.
var ErrTemplateCreated = errors.New("config template generated, fill and restart")

type Config struct {
	DataDir string `mapstructure:"-"`

	DBDriver    string `mapstructure:"db_driver"`
	DatabaseURL string `mapstructure:"database_url"`
	DBPoolSize  int    `mapstructure:"db_pool_size"`

	JWTExpireDays        int `mapstructure:"jwt_expire_days"`
	ChatExpireDays       int `mapstructure:"chat_expire_days"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`

	Provider     string `mapstructure:"provider"`
	APIBase      string `mapstructure:"api_base"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SysPrompt    string `mapstructure:"sys_prompt"`
	MaxTokens    int    `mapstructure:"max_tokens"`
	HistoryLimit int    `mapstructure:"history_limit"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

var defaults = map[string]any{
	"db_driver":              "sqlite",
	"database_url":           "",
	"db_pool_size":           10,
	"jwt_expire_days":        30,
	"chat_expire_days":       30,
	"sweep_interval_seconds": 600,
	"provider":               "openai",
	"api_base":               "https://api.openai.com/v1",
	"api_key":                apiKeyPlaceholder,
	"model":                  "chatgpt-4o-latest",
	"sys_prompt":             "You are a helpful assistant.",
	"max_tokens":             512,
	"history_limit":          0,
	"allowed_origins":        []string{"*"},
}

// Load reads <dataDir>/config.toml, creating the data directory if needed.
// Every key may be overridden by an environment variable RELAY_<KEY>.
func Load(dataDir string) (*Config, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, fileName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		created, err := writeTemplate(path)
		if err != nil {
			return nil, err
		}
		if created {
			return nil, fmt.Errorf("%w: %s", ErrTemplateCreated, path)
		}
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.DataDir = dataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// writeTemplate writes the defaults to path unless the file already
// exists. It reports whether this call created the file.
func writeTemplate(path string) (bool, error) {
	err := newViper().SafeWriteConfigAs(path)
	if err == nil {
		return true, nil
	}
	var exists viper.ConfigFileAlreadyExistsError
	if errors.As(err, &exists) {
		return false, nil
	}
	return false, fmt.Errorf("write config template: %w", err)
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid db_driver value %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required for the postgres driver")
	}
	switch c.Provider {
	case "openai", "gemini", "ark":
	default:
		return fmt.Errorf("invalid provider value %q", c.Provider)
	}
	if c.APIKey == "" || c.APIKey == apiKeyPlaceholder {
		return fmt.Errorf("api_key is not set")
	}
	if c.Model == "" {
		return fmt.Errorf("model is not set")
	}

	positive := map[string]int{
		"db_pool_size":           c.DBPoolSize,
		"jwt_expire_days":        c.JWTExpireDays,
		"chat_expire_days":       c.ChatExpireDays,
		"sweep_interval_seconds": c.SweepIntervalSeconds,
		"max_tokens":             c.MaxTokens,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("invalid %s value %d: must be positive", key, value)
		}
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("invalid history_limit value %d: must not be negative", c.HistoryLimit)
	}
	return nil
}

// DatabaseDSN returns the configured database URL, defaulting to a
// store.db file in the data directory for SQLite.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL == "" && c.DBDriver == "sqlite" {
		return filepath.Join(c.DataDir, "store.db")
	}
	return c.DatabaseURL
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireDays) * 24 * time.Hour
}

func (c *Config) ChatMaxAge() time.Duration {
	return time.Duration(c.ChatExpireDays) * 24 * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
