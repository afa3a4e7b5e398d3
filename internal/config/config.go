// Package config provides YAML-based configuration loading for Courier.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fail modes for rate-limit checks when the budget store is unreachable.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Policies for sequences missing one or more positions at dispatch time.
const (
	IncompleteDeliver = "deliver"
	IncompleteHold    = "hold"
)

// Config is the top-level Courier configuration, loaded from config.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	Processor ProcessorConfig `yaml:"processor"`
	Limits    LimitsConfig    `yaml:"limits"`
	Sequences SequencesConfig `yaml:"sequences"`
	SMS       SMSConfig       `yaml:"sms"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// DatabaseConfig holds connection settings for the queue and budget store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file path
}

// HTTPConfig holds settings for the integration API server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// ProcessorConfig holds settings for the queue polling loop.
type ProcessorConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec"`
	BatchSize       int `yaml:"batch_size"`
	ClaimTTLSec     int `yaml:"claim_ttl_sec"`
}

// LimitsConfig holds the default per-user delivery policy. Per-user rows in
// the budget table can override quiet hours and timezone.
type LimitsConfig struct {
	Daily           int    `yaml:"daily"`
	Hourly          int    `yaml:"hourly"`
	QuietHoursStart int    `yaml:"quiet_hours_start"` // local hour 0-23
	QuietHoursEnd   int    `yaml:"quiet_hours_end"`
	Timezone        string `yaml:"timezone"`
	FailMode        string `yaml:"fail_mode"` // "open" or "closed"
	ActiveWindowMin int    `yaml:"active_window_min"`
}

// SequencesConfig controls handling of structurally incomplete sequences.
type SequencesConfig struct {
	IncompletePolicy string `yaml:"incomplete_policy"` // "deliver" or "hold"
}

// SMSConfig points at the SMS provider integration. An empty webhook URL
// selects the dry-run sender, which logs instead of transmitting.
type SMSConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// AlertsConfig holds operator notification settings.
type AlertsConfig struct {
	Platform         string `yaml:"platform"` // "slack", "discord", or "" (disabled)
	Channel          string `yaml:"channel"`
	SlackBotToken    string `yaml:"slack_bot_token"`
	DiscordBotToken  string `yaml:"discord_bot_token"`
	FailureThreshold int    `yaml:"failure_threshold"`
	DigestCron       string `yaml:"digest_cron"` // 5-field cron expression, empty disables
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied, for callers that run
// without a config file (tests, courier queue CLI against sqlite).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// PollInterval returns the processor tick interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Processor.PollIntervalSec) * time.Second
}

// ClaimTTL returns how long a row claim is honored before it is considered
// stale and reclaimable.
func (c *Config) ClaimTTL() time.Duration {
	return time.Duration(c.Processor.ClaimTTLSec) * time.Second
}

// ActiveWindow returns the inbound-activity window for the quiet-hours
// override as a duration.
func (c *Config) ActiveWindow() time.Duration {
	return time.Duration(c.Limits.ActiveWindowMin) * time.Minute
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "courier"
	}
	if c.Database.Path == "" {
		c.Database.Path = "courier.db"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Processor.PollIntervalSec == 0 {
		c.Processor.PollIntervalSec = 30
	}
	if c.Processor.BatchSize == 0 {
		c.Processor.BatchSize = 50
	}
	if c.Processor.ClaimTTLSec == 0 {
		c.Processor.ClaimTTLSec = 300
	}
	if c.Limits.Daily == 0 {
		c.Limits.Daily = 10
	}
	if c.Limits.Hourly == 0 {
		c.Limits.Hourly = 3
	}
	if c.Limits.QuietHoursStart == 0 && c.Limits.QuietHoursEnd == 0 {
		c.Limits.QuietHoursStart = 22
		c.Limits.QuietHoursEnd = 8
	}
	if c.Limits.Timezone == "" {
		c.Limits.Timezone = "UTC"
	}
	if c.Limits.FailMode == "" {
		c.Limits.FailMode = FailOpen
	}
	if c.Limits.ActiveWindowMin == 0 {
		c.Limits.ActiveWindowMin = 10
	}
	if c.Sequences.IncompletePolicy == "" {
		c.Sequences.IncompletePolicy = IncompleteDeliver
	}
	if c.SMS.TimeoutSec == 0 {
		c.SMS.TimeoutSec = 10
	}
	if c.Alerts.FailureThreshold == 0 {
		c.Alerts.FailureThreshold = 3
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("database.driver must be mysql or sqlite, got %q", c.Database.Driver))
	}
	if c.Limits.FailMode != FailOpen && c.Limits.FailMode != FailClosed {
		errs = append(errs, fmt.Sprintf("limits.fail_mode must be open or closed, got %q", c.Limits.FailMode))
	}
	if c.Limits.QuietHoursStart < 0 || c.Limits.QuietHoursStart > 23 {
		errs = append(errs, "limits.quiet_hours_start must be 0-23")
	}
	if c.Limits.QuietHoursEnd < 0 || c.Limits.QuietHoursEnd > 23 {
		errs = append(errs, "limits.quiet_hours_end must be 0-23")
	}
	if _, err := time.LoadLocation(c.Limits.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("limits.timezone %q is not a valid IANA zone", c.Limits.Timezone))
	}
	if p := c.Sequences.IncompletePolicy; p != IncompleteDeliver && p != IncompleteHold {
		errs = append(errs, fmt.Sprintf("sequences.incomplete_policy must be deliver or hold, got %q", p))
	}
	switch c.Alerts.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("alerts.platform must be slack, discord, or empty, got %q", c.Alerts.Platform))
	}
	if c.Alerts.Platform == "slack" && c.Alerts.SlackBotToken == "" {
		errs = append(errs, "alerts.slack_bot_token is required when alerts.platform is slack")
	}
	if c.Alerts.Platform == "discord" && c.Alerts.DiscordBotToken == "" {
		errs = append(errs, "alerts.discord_bot_token is required when alerts.platform is discord")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
