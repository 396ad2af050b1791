package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jgoulah/flumescraper/internal/flume"
)

// Defaults applied when a field is left empty
const (
	DefaultAPIURL         = "https://api.flumetech.com"
	DefaultRequestTimeout = 30 * time.Second
	DefaultLookback       = 5 * time.Minute
	DefaultBucket         = flume.BucketMinute
	DefaultTopicPrefix    = "flume"
)

// Timezone modes for the query window
const (
	TimezoneLocal  = "local"
	TimezoneDevice = "device"
)

// Environment variables that override the config file
const (
	EnvUsername     = "FLUME_USERNAME"
	EnvPassword     = "FLUME_PASSWORD"
	EnvClientID     = "FLUME_CLIENT_ID"
	EnvClientSecret = "FLUME_CLIENT_SECRET"
	EnvAPIURL       = "FLUME_API_URL"
)

// Config holds the application configuration
type Config struct {
	APIURL         string        `yaml:"api_url,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	Credentials    Credentials   `yaml:"credentials"`
	Query          QueryConfig   `yaml:"query,omitempty"`
	MQTT           MQTTConfig    `yaml:"mqtt,omitempty"`
	Log            LogConfig     `yaml:"log,omitempty"`
}

// Credentials holds the OAuth password-grant credentials
type Credentials struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// QueryConfig controls the usage window
type QueryConfig struct {
	Lookback  time.Duration `yaml:"lookback,omitempty"`   // e.g. 5m
	Bucket    string        `yaml:"bucket,omitempty"`     // MIN, HR, DAY, MON, YR
	Timezone  string        `yaml:"timezone,omitempty"`   // "", "local", "device" or an IANA name
	RequestID string        `yaml:"request_id,omitempty"` // Random per query when empty
}

// MQTTConfig holds the broker the samples are published to
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format     string `yaml:"format,omitempty"` // text or json
	Dir        string `yaml:"dir,omitempty"`    // Enables rotated file logging when set
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// Load reads the config file, then applies .env and environment overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// Environment alone may be enough
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := LoadDotenvIfPresent(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// LoadDotenvIfPresent loads each existing dotenv file into the environment.
// Variables already set are left alone.
func LoadDotenvIfPresent(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat dotenv file %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading dotenv file %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvUsername, &c.Credentials.Username},
		{EnvPassword, &c.Credentials.Password},
		{EnvClientID, &c.Credentials.ClientID},
		{EnvClientSecret, &c.Credentials.ClientSecret},
		{EnvAPIURL, &c.APIURL},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
}

// GetAPIURL returns the API base URL, defaulting to production
func (c *Config) GetAPIURL() string {
	if c.APIURL == "" {
		return DefaultAPIURL
	}
	return strings.TrimRight(c.APIURL, "/")
}

// GetRequestTimeout returns the per-call timeout with a default of 30s
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

// GetLookback returns how far back each query reaches (default 5 minutes)
func (c *Config) GetLookback() time.Duration {
	if c.Query.Lookback <= 0 {
		return DefaultLookback
	}
	return c.Query.Lookback
}

// GetBucket returns the query granularity, defaulting to per-minute
func (c *Config) GetBucket() string {
	if c.Query.Bucket == "" {
		return DefaultBucket
	}
	return strings.ToUpper(c.Query.Bucket)
}

// GetTopicPrefix returns the MQTT topic prefix without trailing slashes
func (m MQTTConfig) GetTopicPrefix() string {
	prefix := strings.TrimRight(strings.TrimSpace(m.TopicPrefix), "/")
	if prefix == "" {
		return DefaultTopicPrefix
	}
	return prefix
}

// Location resolves a fixed query timezone. It returns nil with
// deviceZone=true when the device's own zone should be used.
func (c *Config) Location() (loc *time.Location, deviceZone bool, err error) {
	switch tz := strings.TrimSpace(c.Query.Timezone); tz {
	case "", TimezoneLocal:
		return time.Local, false, nil
	case TimezoneDevice:
		return nil, true, nil
	default:
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, false, fmt.Errorf("loading timezone %q: %w", tz, err)
		}
		return loc, false, nil
	}
}

var validBuckets = map[string]bool{
	flume.BucketMinute: true,
	flume.BucketHour:   true,
	flume.BucketDay:    true,
	flume.BucketMonth:  true,
	flume.BucketYear:   true,
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var problems []string

	if c.Credentials.Username == "" {
		problems = append(problems, "credentials.username is required (or set "+EnvUsername+")")
	}
	if c.Credentials.Password == "" {
		problems = append(problems, "credentials.password is required (or set "+EnvPassword+")")
	}
	if c.Credentials.ClientID == "" {
		problems = append(problems, "credentials.client_id is required (or set "+EnvClientID+")")
	}
	if c.Credentials.ClientSecret == "" {
		problems = append(problems, "credentials.client_secret is required (or set "+EnvClientSecret+")")
	}

	if c.Query.Lookback < 0 {
		problems = append(problems, fmt.Sprintf("query.lookback cannot be negative, got: %s", c.Query.Lookback))
	}
	if !validBuckets[c.GetBucket()] {
		problems = append(problems, fmt.Sprintf("query.bucket must be one of MIN, HR, DAY, MON, YR, got: %s", c.Query.Bucket))
	}
	if _, _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.RequestTimeout < 0 {
		problems = append(problems, fmt.Sprintf("request_timeout cannot be negative, got: %s", c.RequestTimeout))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
