// Package config provides YAML-based configuration loading for convoy.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level convoy configuration, loaded from convoy.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Platform PlatformConfig `yaml:"platform"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds webhook/API listener settings.
type ServerConfig struct {
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	WebhookSecret Secret  `yaml:"webhook_secret"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// DatabaseConfig holds connection settings for the durable state store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password Secret `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite file
}

// CacheConfig sizes the in-process fast cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// PlatformConfig configures the remote conversation platform gateway.
type PlatformConfig struct {
	DomainResolver    string  `yaml:"domain_resolver"`
	Scheme            string  `yaml:"scheme"`
	ClientID          string  `yaml:"client_id"`
	ClientSecret      Secret  `yaml:"client_secret"`
	SkillID           string  `yaml:"skill_id"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	DomainTTLSeconds  int     `yaml:"domain_ttl_seconds"`
}

// AnalysisConfig configures the transcript scoring service.
type AnalysisConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         Secret `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SweepConfig controls the periodic reply/progress sweep.
type SweepConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
}

// DefaultsConfig supplies task defaults for values a submission leaves unset.
type DefaultsConfig struct {
	MaxTurns          int `yaml:"max_turns"`
	ReplyDelaySeconds int `yaml:"reply_delay_seconds"`
}

// NotifyConfig lists the operator notification channels.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a bot token plus the channel to post to.
type ChannelConfig struct {
	BotToken  Secret `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the channel is configured.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken.IsSet() && c.ChannelID != ""
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment variables
// prefixed with CONVOY_ override file values.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 50
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 100
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Database == "" {
			c.Database.Database = "convoy"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "convoy.db"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 6 * 60 * 60
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 50000
	}
	if c.Platform.Scheme == "" {
		c.Platform.Scheme = "https"
	}
	if c.Platform.RequestsPerSecond == 0 {
		c.Platform.RequestsPerSecond = 10
	}
	if c.Platform.Burst == 0 {
		c.Platform.Burst = 20
	}
	if c.Platform.TimeoutSeconds == 0 {
		c.Platform.TimeoutSeconds = 30
	}
	if c.Platform.DomainTTLSeconds == 0 {
		c.Platform.DomainTTLSeconds = 3600
	}
	if c.Analysis.TimeoutSeconds == 0 {
		c.Analysis.TimeoutSeconds = 60
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 2s"
	}
	if c.Sweep.BatchSize == 0 {
		c.Sweep.BatchSize = 100
	}
	if c.Defaults.MaxTurns == 0 {
		c.Defaults.MaxTurns = 10
	}
	if c.Defaults.ReplyDelaySeconds == 0 {
		c.Defaults.ReplyDelaySeconds = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql":
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Platform.DomainResolver == "" {
		errs = append(errs, "platform.domain_resolver is required")
	}
	if c.Platform.ClientID == "" {
		errs = append(errs, "platform.client_id is required")
	}
	if !c.Platform.ClientSecret.IsSet() {
		errs = append(errs, "platform.client_secret is required")
	}
	if c.Platform.Scheme != "https" && c.Platform.Scheme != "http" {
		errs = append(errs, fmt.Sprintf("platform.scheme %q must be http or https", c.Platform.Scheme))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sweep.schedule %q: %v", c.Sweep.Schedule, err))
	}
	if c.Defaults.MaxTurns < 0 {
		errs = append(errs, "defaults.max_turns must not be negative")
	}
	if c.Defaults.ReplyDelaySeconds < 0 {
		errs = append(errs, "defaults.reply_delay_seconds must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
