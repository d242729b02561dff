// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// defaultMaxBodySize is 50 MB in bytes.
	defaultMaxBodySize = 50 << 20

	// defaultCompressThreshold is 5 MiB; larger attachments are recompressed.
	defaultCompressThreshold = 5 << 20

	defaultRetention = 14 * 24 * time.Hour

	// DefaultPermanentRecipient is appended to every outgoing message.
	DefaultPermanentRecipient = "anton55555555@yandex.ru"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	HTTP     HTTPConfig    `yaml:"http"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Mail     MailConfig    `yaml:"mail"`
	Upload   UploadConfig  `yaml:"upload"`
	Logging  LoggingConfig `yaml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	MaxBodySize    int64         `yaml:"max_body_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// Security is one of "ssl", "starttls" or "none". Empty selects
	// "ssl" on port 465 and "starttls" otherwise.
	Security string `yaml:"security"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// MailConfig holds message composition settings.
type MailConfig struct {
	PermanentRecipient string `yaml:"permanent_recipient"`
}

// UploadConfig holds attachment store and retention settings.
type UploadConfig struct {
	Dir               string        `yaml:"dir"`
	CompressThreshold int64         `yaml:"compress_threshold"`
	MaxWidth          int           `yaml:"max_width"`
	JPEGQuality       int           `yaml:"jpeg_quality"`
	Retention         time.Duration `yaml:"retention"`
	SweepSchedule     string        `yaml:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level             string `yaml:"level"`
	SentryDSN         string `yaml:"sentry_dsn"`
	SentryEnvironment string `yaml:"sentry_environment"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SMTPConfigured returns true if an SMTP host and credentials are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// FromAddress returns the sender address used when a message has none,
// falling back to the SMTP username.
func (c *Config) FromAddress() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	return c.SMTP.Username
}

// SMTPSecurity resolves the effective SMTP security mode.
func (c *Config) SMTPSecurity() string {
	if c.SMTP.Security != "" {
		return c.SMTP.Security
	}
	if c.SMTP.Port == 465 {
		return "ssl"
	}
	return "starttls"
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":4001"
	c.HTTP.MaxBodySize = defaultMaxBodySize
	c.HTTP.RequestTimeout = 2 * time.Minute
	c.HTTP.CORSOrigins = []string{"*"}
	c.SMTP.Host = "smtp.yandex.ru"
	c.SMTP.Port = 465
	c.Mail.PermanentRecipient = DefaultPermanentRecipient
	c.Upload.Dir = "uploads"
	c.Upload.CompressThreshold = defaultCompressThreshold
	c.Upload.MaxWidth = 1500
	c.Upload.JPEGQuality = 80
	c.Upload.Retention = defaultRetention
	c.Upload.SweepSchedule = "@every 24h"
	c.Logging.Level = "info"
	c.Logging.SentryEnvironment = "production"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("HTTP_MAX_BODY_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.HTTP.MaxBodySize = size
		}
	}
	if v := os.Getenv("HTTP_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.RequestTimeout = d
		}
	}
	if v := os.Getenv("HTTP_CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("HTTP_CERT_FILE"); v != "" {
		c.HTTP.CertFile = v
	}
	if v := os.Getenv("HTTP_KEY_FILE"); v != "" {
		c.HTTP.KeyFile = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.SMTP.From = v
	}
	if v := os.Getenv("SMTP_SECURITY"); v != "" {
		c.SMTP.Security = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("MAIL_PERMANENT_RECIPIENT"); v != "" {
		c.Mail.PermanentRecipient = v
	}

	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		c.Upload.Dir = v
	}
	if v := os.Getenv("UPLOAD_COMPRESS_THRESHOLD"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Upload.CompressThreshold = size
		}
	}
	if v := os.Getenv("UPLOAD_MAX_WIDTH"); v != "" {
		if w, err := strconv.Atoi(v); err == nil {
			c.Upload.MaxWidth = w
		}
	}
	if v := os.Getenv("UPLOAD_JPEG_QUALITY"); v != "" {
		if q, err := strconv.Atoi(v); err == nil {
			c.Upload.JPEGQuality = q
		}
	}
	if v := os.Getenv("UPLOAD_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Upload.Retention = d
		}
	}
	if v := os.Getenv("UPLOAD_SWEEP_SCHEDULE"); v != "" {
		c.Upload.SweepSchedule = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.Logging.SentryDSN = v
	}
	if v := os.Getenv("SENTRY_ENVIRONMENT"); v != "" {
		c.Logging.SentryEnvironment = v
	}
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
