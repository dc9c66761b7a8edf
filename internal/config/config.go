package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	SourcesCSVPath string `yaml:"sources_csv_path"`
	DBPath         string `yaml:"db_path" validate:"required"`

	// Server settings
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port" validate:"min=0,max=65535"`
	CronSecret string `yaml:"-"`

	// Scheduling for the fetch-news and send-reminders commands
	Interval time.Duration `yaml:"interval" validate:"min=0"`

	News      NewsConfig     `yaml:"news"`
	Rewrite   RewriteConfig  `yaml:"rewrite"`
	Mail      MailConfig     `yaml:"mail"`
	Reminders ReminderConfig `yaml:"reminders"`

	// Log settings
	LogLevel zerolog.Level `yaml:"-"`
}

// NewsConfig tunes the news ingestion run.
type NewsConfig struct {
	MaxPerRun        int           `yaml:"max_per_run" validate:"min=1"`
	PaceDelay        time.Duration `yaml:"pace_delay" validate:"min=0"`
	ItemsPerSource   int           `yaml:"items_per_source" validate:"min=1"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	FetchConcurrency int           `yaml:"fetch_concurrency" validate:"min=1"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gt=0"`
	UserAgent        string        `yaml:"user_agent"`
}

// RewriteConfig describes how to reach the chat-completions API.
type RewriteConfig struct {
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	Model      string        `yaml:"model" validate:"required"`
	APIKey     string        `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries int           `yaml:"max_retries" validate:"min=0,max=5"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"min=0"`
}

// MailConfig describes the email delivery API.
type MailConfig struct {
	Endpoint     string        `yaml:"endpoint" validate:"required,url"`
	APIKey       string        `yaml:"-"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	SenderDomain string        `yaml:"sender_domain" validate:"required,hostname"`
	SenderName   string        `yaml:"sender_name"`
}

// ReminderConfig tunes the refill reminder run.
type ReminderConfig struct {
	OffsetDays    int           `yaml:"offset_days" validate:"min=0,max=60"`
	FreePlanLimit int           `yaml:"free_plan_limit" validate:"min=0"`
	WriteTimeout  time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		SourcesCSVPath: DefaultSourcesCSVPath,
		DBPath:         DefaultDBPath,
		ServerHost:     DefaultServerHost,
		ServerPort:     DefaultServerPort,
		Interval:       time.Duration(DefaultInterval) * time.Minute,
		News: NewsConfig{
			MaxPerRun:        DefaultMaxPerRun,
			PaceDelay:        DefaultPaceDelay,
			ItemsPerSource:   DefaultItemsPerSource,
			FetchTimeout:     DefaultFetchTimeout,
			FetchConcurrency: DefaultFetchConcurrency,
			WriteTimeout:     DefaultWriteTimeout,
			UserAgent:        DefaultFetchUserAgent,
		},
		Rewrite: RewriteConfig{
			BaseURL:    DefaultRewriteBaseURL,
			Model:      DefaultRewriteModel,
			Timeout:    DefaultRewriteTimeout,
			MaxRetries: DefaultRewriteRetries,
			RetryDelay: DefaultRewriteRetryDelay,
		},
		Mail: MailConfig{
			Endpoint:     DefaultMailEndpoint,
			Timeout:      DefaultMailTimeout,
			SenderDomain: DefaultSenderDomain,
			SenderName:   DefaultSenderName,
		},
		Reminders: ReminderConfig{
			OffsetDays:    DefaultReminderOffsetDays,
			FreePlanLimit: DefaultFreePlanLimit,
			WriteTimeout:  DefaultWriteTimeout,
		},
		LogLevel: logLevel,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// VETREFILL_CONFIG, an optional .env file and the environment, in that order.
// Command-line flags are applied by the caller on top of the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path := GetEnvString(ConfigPathEnv, ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. Secrets are only
// ever read from the environment.
func (c *Config) ApplyEnv() {
	c.DBPath = GetEnvString("VETREFILL_DB_PATH", c.DBPath)
	c.SourcesCSVPath = GetEnvString("VETREFILL_SOURCES_CSV", c.SourcesCSVPath)
	c.ServerHost = GetEnvString("VETREFILL_HOST", c.ServerHost)
	c.ServerPort = GetEnvInt("VETREFILL_PORT", c.ServerPort)
	c.Interval = GetEnvDuration("VETREFILL_INTERVAL", c.Interval)
	c.LogLevel = GetEnvLogLevel("VETREFILL_LOG_LEVEL", c.LogLevel)
	c.CronSecret = GetEnvString("CRON_SECRET", c.CronSecret)

	c.News.MaxPerRun = GetEnvInt("VETREFILL_MAX_PER_RUN", c.News.MaxPerRun)
	c.News.PaceDelay = GetEnvDuration("VETREFILL_PACE_DELAY", c.News.PaceDelay)
	c.News.ItemsPerSource = GetEnvInt("VETREFILL_ITEMS_PER_SOURCE", c.News.ItemsPerSource)
	c.News.FetchConcurrency = GetEnvInt("VETREFILL_FETCH_CONCURRENCY", c.News.FetchConcurrency)

	c.Rewrite.BaseURL = GetEnvString("GROQ_BASE_URL", c.Rewrite.BaseURL)
	c.Rewrite.Model = GetEnvString("GROQ_MODEL", c.Rewrite.Model)
	c.Rewrite.APIKey = GetEnvString("GROQ_API_KEY", c.Rewrite.APIKey)

	c.Mail.APIKey = GetEnvString("RESEND_API_KEY", c.Mail.APIKey)
	c.Mail.SenderDomain = GetEnvString("VETREFILL_SENDER_DOMAIN", c.Mail.SenderDomain)

	c.Reminders.OffsetDays = GetEnvInt("VETREFILL_REMINDER_OFFSET_DAYS", c.Reminders.OffsetDays)
	c.Reminders.FreePlanLimit = GetEnvInt("VETREFILL_FREE_PLAN_LIMIT", c.Reminders.FreePlanLimit)
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
