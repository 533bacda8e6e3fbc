// Package config loads the application configuration from a YAML file with
// environment overrides. A .env file in the working directory is honored for
// local development; cloud credentials are only ever read from the
// environment, never from the YAML file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// loginPrefixPattern constrains tenant login prefixes: digits and dashes
// with a mandatory trailing slash, e.g. "0541-8821-89/".
var loginPrefixPattern = regexp.MustCompile(`^[0-9][0-9-]{0,30}/$`)

// AppConfig is the root application configuration.
type AppConfig struct {
	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Terraform configures the provisioner driver.
	Terraform TerraformConfig `yaml:"terraform"`

	// OVH holds the cloud credentials, environment-only.
	OVH OVHConfig `yaml:"-"`

	// SMTP configures the notification mailer.
	SMTP SMTPConfig `yaml:"smtp"`

	// Jobs configures the background job runtime.
	Jobs JobsConfig `yaml:"jobs"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `yaml:"tracing"`

	// LoginPrefix is an optional tenant prefix prepended to usernames in
	// credentials notifications (e.g. "0541-8821-89/").
	LoginPrefix string `yaml:"login_prefix" validate:"omitempty,login_prefix"`

	// RetentionHours is how long attendee environments outlive the
	// workshop end date.
	RetentionHours int `yaml:"retention_hours" validate:"min=0"`

	// StuckThresholdMinutes is the staleness threshold for the stuck
	// deployment sweep.
	StuckThresholdMinutes int `yaml:"stuck_threshold_minutes" validate:"min=0"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required"`
}

// TerraformConfig configures the provisioner driver.
type TerraformConfig struct {
	// BinaryPath is the Terraform executable.
	BinaryPath string `yaml:"binary_path" validate:"required"`

	// WorkspaceRoot holds the per-attendee workspace directories.
	WorkspaceRoot string `yaml:"workspace_root" validate:"required"`

	// TimeoutMinutes bounds one Terraform invocation.
	TimeoutMinutes int `yaml:"timeout_minutes" validate:"min=0"`
}

// Timeout returns the invocation timeout as a duration.
func (c TerraformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// OVHConfig holds the cloud provider credentials. These are read from the
// environment only and injected into Terraform's process environment.
type OVHConfig struct {
	Endpoint          string
	ApplicationKey    string
	ApplicationSecret string
	ConsumerKey       string
}

// Env returns the credentials as environment variables for the provisioner.
func (c OVHConfig) Env() map[string]string {
	return map[string]string{
		"OVH_ENDPOINT":           c.Endpoint,
		"OVH_APPLICATION_KEY":    c.ApplicationKey,
		"OVH_APPLICATION_SECRET": c.ApplicationSecret,
		"OVH_CONSUMER_KEY":       c.ConsumerKey,
	}
}

// SMTPConfig configures the notification mailer. An empty host disables it.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	From     string `yaml:"from"`
}

// JobsConfig configures the background job runtime.
type JobsConfig struct {
	// Workers is the worker pool size.
	Workers int `yaml:"workers" validate:"min=0"`

	// BufferSize is the queue capacity.
	BufferSize int `yaml:"buffer_size" validate:"min=0"`

	// SweepIntervalMinutes is how often the reconciliation sweeps run.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" validate:"min=0"`
}

// SweepInterval returns the sweep cadence as a duration.
func (c JobsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in defaults.
func Default() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Path: "labforge.db",
		},
		Terraform: TerraformConfig{
			BinaryPath:     "/usr/local/bin/terraform",
			WorkspaceRoot:  "/var/lib/labforge/workspaces",
			TimeoutMinutes: 30,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Jobs: JobsConfig{
			Workers:              4,
			BufferSize:           256,
			SweepIntervalMinutes: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
		RetentionHours:        72,
		StuckThresholdMinutes: 30,
	}
}

// Load reads the configuration: defaults, then the YAML file (if present),
// then environment overrides, then validation.
func Load(path string) (*AppConfig, error) {
	// Local development convenience; a missing .env is not an error
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment only
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func (c *AppConfig) applyEnv() {
	setString(&c.Database.Path, "LABFORGE_DB_PATH")
	setString(&c.Terraform.BinaryPath, "TERRAFORM_BINARY_PATH")
	setString(&c.Terraform.WorkspaceRoot, "TERRAFORM_WORKSPACE_DIR")
	setInt(&c.Terraform.TimeoutMinutes, "TERRAFORM_TIMEOUT_MINUTES")

	setString(&c.OVH.Endpoint, "OVH_ENDPOINT")
	setString(&c.OVH.ApplicationKey, "OVH_APPLICATION_KEY")
	setString(&c.OVH.ApplicationSecret, "OVH_APPLICATION_SECRET")
	setString(&c.OVH.ConsumerKey, "OVH_CONSUMER_KEY")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.From, "SMTP_FROM")

	setString(&c.LoginPrefix, "LABFORGE_LOGIN_PREFIX")
	setString(&c.Logging.Level, "LABFORGE_LOG_LEVEL")
	setString(&c.Logging.Format, "LABFORGE_LOG_FORMAT")
}

// Retention returns the environment retention window.
func (c *AppConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// StuckThreshold returns the stuck-deployment staleness threshold.
func (c *AppConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMinutes) * time.Minute
}

// Validate checks the configuration, including the login prefix format.
func (c *AppConfig) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("login_prefix", func(fl validator.FieldLevel) bool {
		return loginPrefixPattern.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
