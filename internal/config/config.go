package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/dapsync/internal/db"
	"github.com/livinlefevreloca/dapsync/internal/report"
	"github.com/livinlefevreloca/dapsync/internal/syncer"
)

// Config represents the application configuration
type Config struct {
	DAP       DAPConfig       `toml:"dap"`
	Warehouse WarehouseConfig `toml:"warehouse"`
	State     db.Config       `toml:"state"`
	Syncer    syncer.Config   `toml:"syncer"`
	Fleet     FleetConfig     `toml:"fleet"`
	Report    ReportConfig    `toml:"report"`
	Notify    NotifyConfig    `toml:"notify"`
	AWS       AWSConfig       `toml:"aws"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DAPConfig holds the replication source settings
type DAPConfig struct {
	APIBaseURL     string        `toml:"api_base_url"`
	Namespace      string        `toml:"namespace"`
	CLIPath        string        `toml:"cli_path"`
	WorkDir        string        `toml:"work_dir"`
	SkipTables     []string      `toml:"skip_tables"`
	CommandTimeout time.Duration `toml:"command_timeout"`
	ClientID       string        `toml:"client_id"`
	ClientSecret   string        `toml:"client_secret"`
}

// WarehouseConfig locates the target database and its admin access
type WarehouseConfig struct {
	// Executor is "rdsdata", "postgres" or "none"
	Executor       string          `toml:"executor"`
	Schema         string          `toml:"schema"`
	AdminDatabase  string          `toml:"admin_database"`
	ClusterARN     string          `toml:"cluster_arn"`
	AdminSecretARN string          `toml:"admin_secret_arn"`
	AdminDSN       string          `toml:"admin_dsn"`
	UserSecretName string          `toml:"user_secret_name"`
	// ConnectionURL is used instead of the user secret when set
	ConnectionURL  string          `toml:"connection_url"`
	SSLMode        string          `toml:"ssl_mode"`
	SSLRootCert    string          `toml:"ssl_root_cert"`
	RestoreTimeout time.Duration   `toml:"restore_timeout"`
	Provision      ProvisionConfig `toml:"provision"`
}

// ProvisionConfig drives the setup command
type ProvisionConfig struct {
	AdminUser        string            `toml:"admin_user"`
	Owner            string            `toml:"owner"`
	MetadataSchema   string            `toml:"metadata_schema"`
	Schemas          []string          `toml:"schemas"`
	UserSecretPrefix string            `toml:"user_secret_prefix"`
	Roles            map[string]string `toml:"roles"`
}

// FleetConfig controls a fleet cycle
type FleetConfig struct {
	Concurrency  int           `toml:"concurrency"`
	InitUnseen   bool          `toml:"init_unseen"`
	TableTimeout time.Duration `toml:"table_timeout"`
	Interval     time.Duration `toml:"interval"`
}

// ReportConfig holds the fleet report settings
type ReportConfig struct {
	System string `toml:"system"`
	report.Thresholds
}

// NotifyConfig selects the notification channel
type NotifyConfig struct {
	WebhookURL        string        `toml:"webhook_url"`
	WebhookSecretName string        `toml:"webhook_secret_name"`
	Timeout           time.Duration `toml:"timeout"`
}

// AWSConfig holds the AWS region and deployment environment
type AWSConfig struct {
	Region      string `toml:"region"`
	Environment string `toml:"environment"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DAP: DAPConfig{
			APIBaseURL:     "https://api-gateway.instructure.com",
			Namespace:      "canvas",
			CLIPath:        "dap",
			WorkDir:        os.TempDir(),
			CommandTimeout: 2 * time.Hour,
		},
		Warehouse: WarehouseConfig{
			Executor:       "rdsdata",
			Schema:         "canvas",
			AdminDatabase:  "cd2",
			SSLMode:        "verify-ca",
			SSLRootCert:    "rds-combined-ca-bundle.pem",
			RestoreTimeout: 2 * time.Minute,
			Provision: ProvisionConfig{
				AdminUser:      "postgres",
				Owner:          "canvas",
				MetadataSchema: "instructure_dap",
				Schemas:        []string{"canvas", "instructure_dap"},
				Roles:          map[string]string{"athena": "read_only"},
			},
		},
		State: db.Config{
			Driver:          "sqlite3",
			DSN:             "dapsync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Syncer: syncer.DefaultConfig(),
		Fleet: FleetConfig{
			Concurrency:  8,
			InitUnseen:   true,
			TableTimeout: 3 * time.Hour,
		},
		Report: ReportConfig{
			System:     "Canvas Data 2",
			Thresholds: report.DefaultThresholds(),
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		AWS: AWSConfig{
			Region:      "ca-central-1",
			Environment: "dev",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables
// 4. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// ApplyEnv overrides settings from the deployment environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	set("ENV", &c.AWS.Environment)
	set("AWS_REGION", &c.AWS.Region)
	set("API_BASE_URL", &c.DAP.APIBaseURL)
	set("DB_SCHEMA", &c.Warehouse.Schema)
	set("DB_CLUSTER_ARN", &c.Warehouse.ClusterARN)
	set("DB_USER_SECRET_NAME", &c.Warehouse.UserSecretName)
	set("ADMIN_SECRET_ARN", &c.Warehouse.AdminSecretARN)
	set("SLACK_WEBHOOK_SECRET_NAME", &c.Notify.WebhookSecretName)
	set("STACK_NAME", &c.Report.System)

	if v, ok := lookup("SKIP_TABLES"); ok {
		c.DAP.SkipTables = SplitList(v)
	}
}

// SplitList splits a comma separated list, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FullEnvironmentName expands the short environment name used in resource names
func FullEnvironmentName(env string) string {
	switch env {
	case "dev":
		return "Development"
	case "stg":
		return "Staging"
	case "prod":
		return "Production"
	default:
		return env
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// State store validation
	if c.State.Driver == "" {
		return fmt.Errorf("state driver must be specified")
	}
	if c.State.Driver != "sqlite3" && c.State.Driver != "postgres" {
		return fmt.Errorf("unsupported state driver: %s (must be sqlite3 or postgres)", c.State.Driver)
	}
	if c.State.DSN == "" {
		return fmt.Errorf("state DSN must be specified")
	}

	if err := c.Syncer.Validate(); err != nil {
		return fmt.Errorf("syncer: %w", err)
	}

	// DAP validation
	if c.DAP.Namespace == "" {
		return fmt.Errorf("dap namespace must be specified")
	}
	if c.DAP.APIBaseURL == "" {
		return fmt.Errorf("dap api_base_url must be specified")
	}

	// Warehouse validation
	switch c.Warehouse.Executor {
	case "rdsdata", "postgres", "none":
	default:
		return fmt.Errorf("invalid warehouse executor: %s (must be rdsdata, postgres, or none)", c.Warehouse.Executor)
	}
	if c.Warehouse.Schema == "" {
		return fmt.Errorf("warehouse schema must be specified")
	}

	// Fleet validation
	if c.Fleet.Concurrency <= 0 {
		return fmt.Errorf("fleet concurrency must be positive")
	}

	if err := c.Report.Thresholds.Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// NewLogger builds the process logger from the logging settings
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
