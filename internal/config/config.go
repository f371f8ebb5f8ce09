// Package config loads job runner configuration from a YAML file, a .env file
// and ES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store names.
const (
	StoreSource = "source"
	StoreTarget = "target"
)

// DateLayout is the calculation date format.
const DateLayout = "2006-01-02"

// ErrMissingDatabase indicates a store has no connection settings.
var ErrMissingDatabase = errors.New("config: missing database")

// Error marks a configuration failure.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(key, format string, args ...any) error {
	return &Error{Key: key, Err: fmt.Errorf(format, args...)}
}

// LogConfig configures the run logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Dir     string `yaml:"dir"`
	Console bool   `yaml:"console"`
}

// DatabaseConfig describes one relational store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Schema       string `yaml:"schema"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	// Timezone names the zone zoneless timestamps are stored in. Empty means
	// the process local zone.
	Timezone     string `yaml:"timezone"`
}

// ActualTimeConfig configures the ActualTimeCalc job.
type ActualTimeConfig struct {
	CalcDate      string   `yaml:"calc_date"`
	OutputDir     string   `yaml:"output_dir"`
	CounterName   string   `yaml:"counter_name"`
	Workers       int      `yaml:"workers"`
	ExportFormats []string `yaml:"export_formats"`
}

// StencilOverdueConfig configures the SMT_Stencil_Overdue job.
type StencilOverdueConfig struct {
	Database            string  `yaml:"database"`
	DaysOnlineThreshold int     `yaml:"days_online_threshold"`
	UsageRateThreshold  float64 `yaml:"usage_rate_threshold"`
	MailGroup           string  `yaml:"mail_group"`
	TestMode            bool    `yaml:"test_mode"`
	TestRecipient       string  `yaml:"test_recipient"`
}

// MailConfig configures outbound notifications.
type MailConfig struct {
	SMTPHost   string `yaml:"smtp_host"`
	SMTPPort   int    `yaml:"smtp_port"`
	Sender     string `yaml:"sender"`
	SenderName string `yaml:"sender_name"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	StartTLS   bool   `yaml:"start_tls"`
	WebhookURL string `yaml:"webhook_url"`
}

// MetricsConfig configures where run metrics are flushed.
type MetricsConfig struct {
	Textfile       string `yaml:"textfile"`
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// JobsConfig holds settings shared by every job.
type JobsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the full runner configuration.
type Config struct {
	Log            LogConfig                 `yaml:"log"`
	Databases      map[string]DatabaseConfig `yaml:"databases"`
	ActualTime     ActualTimeConfig          `yaml:"actual_time"`
	StencilOverdue StencilOverdueConfig      `yaml:"stencil_overdue"`
	Mail           MailConfig                `yaml:"mail"`
	Metrics        MetricsConfig             `yaml:"metrics"`
	Jobs           JobsConfig                `yaml:"jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Dir: "Logs", Console: true},
		Databases: map[string]DatabaseConfig{
			StoreSource: {Driver: "pgx"},
			StoreTarget: {Driver: "pgx"},
		},
		ActualTime: ActualTimeConfig{
			OutputDir:   "Output",
			CounterName: "ACTUAL_ID",
			Workers:     1,
		},
		StencilOverdue: StencilOverdueConfig{
			Database:            StoreTarget,
			DaysOnlineThreshold: 7,
			UsageRateThreshold:  0.95,
			MailGroup:           "STEEL_ALARM",
		},
		Mail: MailConfig{SMTPPort: 25, SenderName: "AMES"},
	}
}

// Load reads the optional .env file, the YAML file at path when set, and
// applies environment overrides on top.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, &Error{Key: ".env", Err: err}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, &Error{Key: path, Err: err}
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg, keeping values the document omits.
func Parse(data []byte, cfg *Config) error {
	base := cfg.Databases
	cfg.Databases = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg.Databases = base
		return &Error{Err: fmt.Errorf("parse yaml: %w", err)}
	}
	merged := make(map[string]DatabaseConfig, len(base)+len(cfg.Databases))
	for name, db := range base {
		merged[name] = db
	}
	for name, db := range cfg.Databases {
		key := strings.ToLower(name)
		if db.Driver == "" {
			db.Driver = merged[key].Driver
		}
		merged[key] = db
	}
	cfg.Databases = merged
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Log.Level = getenvDefault("ES_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = getenvDefault("ES_LOG_DIR", cfg.Log.Dir)

	for _, name := range []string{StoreSource, StoreTarget} {
		prefix := "ES_" + strings.ToUpper(name) + "_"
		db := cfg.Databases[name]
		db.Driver = getenvDefault(prefix+"DRIVER", db.Driver)
		db.DSN = getenvDefault(prefix+"DSN", db.DSN)
		db.Schema = getenvDefault(prefix+"SCHEMA", db.Schema)
		db.Timezone = getenvDefault(prefix+"TIMEZONE", db.Timezone)
		cfg.Databases[name] = db
	}

	cfg.ActualTime.CalcDate = getenvDefault("ES_CALC_DATE", cfg.ActualTime.CalcDate)
	cfg.ActualTime.OutputDir = getenvDefault("ES_OUTPUT_DIR", cfg.ActualTime.OutputDir)
	if formats := splitCSV(os.Getenv("ES_EXPORT_FORMATS")); len(formats) > 0 {
		cfg.ActualTime.ExportFormats = formats
	}

	cfg.StencilOverdue.MailGroup = getenvDefault("ES_MAIL_GROUP", cfg.StencilOverdue.MailGroup)
	cfg.StencilOverdue.TestRecipient = getenvDefault("ES_TEST_RECIPIENT", cfg.StencilOverdue.TestRecipient)
	if value := os.Getenv("ES_TEST_MODE"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return invalid("ES_TEST_MODE", "not a boolean: %q", value)
		}
		cfg.StencilOverdue.TestMode = parsed
	}

	cfg.Mail.SMTPHost = getenvDefault("ES_SMTP_HOST", cfg.Mail.SMTPHost)
	cfg.Mail.SMTPPort = getenvIntDefault("ES_SMTP_PORT", cfg.Mail.SMTPPort)
	cfg.Mail.Sender = getenvDefault("ES_MAIL_SENDER", cfg.Mail.Sender)
	cfg.Mail.Username = getenvDefault("ES_SMTP_USERNAME", cfg.Mail.Username)
	cfg.Mail.Password = getenvDefault("ES_SMTP_PASSWORD", cfg.Mail.Password)
	cfg.Mail.WebhookURL = getenvDefault("ES_WEBHOOK_URL", cfg.Mail.WebhookURL)

	cfg.Metrics.Textfile = getenvDefault("ES_METRICS_TEXTFILE", cfg.Metrics.Textfile)
	cfg.Metrics.PushgatewayURL = getenvDefault("ES_PUSHGATEWAY_URL", cfg.Metrics.PushgatewayURL)
	cfg.Jobs.Timeout = getenvDuration("ES_JOB_TIMEOUT", cfg.Jobs.Timeout)
	return nil
}

// Database returns the settings of a named store.
func (c Config) Database(name string) (DatabaseConfig, error) {
	db, ok := c.Databases[strings.ToLower(name)]
	if !ok || strings.TrimSpace(db.DSN) == "" {
		return DatabaseConfig{}, &Error{Key: "databases." + name + ".dsn", Err: ErrMissingDatabase}
	}
	if _, err := db.Location(); err != nil {
		return DatabaseConfig{}, &Error{Key: "databases." + name + ".timezone", Err: err}
	}
	return db, nil
}

// Location resolves the store timezone.
func (d DatabaseConfig) Location() (*time.Location, error) {
	switch tz := strings.TrimSpace(d.Timezone); tz {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(tz)
	}
}

// ValidateActualTime checks the settings the ActualTimeCalc job needs.
func (c Config) ValidateActualTime() error {
	for _, name := range []string{StoreSource, StoreTarget} {
		if _, err := c.Database(name); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.ActualTime.OutputDir) == "" {
		return invalid("actual_time.output_dir", "required")
	}
	if c.ActualTime.CalcDate != "" {
		if _, err := time.Parse(DateLayout, c.ActualTime.CalcDate); err != nil {
			return invalid("actual_time.calc_date", "want yyyy-MM-dd, got %q", c.ActualTime.CalcDate)
		}
	}
	if c.ActualTime.Workers < 0 {
		return invalid("actual_time.workers", "must not be negative")
	}
	return nil
}

// ValidateStencilOverdue checks the settings the SMT_Stencil_Overdue job needs.
func (c Config) ValidateStencilOverdue() error {
	if _, err := c.Database(c.StencilOverdue.Database); err != nil {
		return err
	}
	s := c.StencilOverdue
	if s.DaysOnlineThreshold <= 0 {
		return invalid("stencil_overdue.days_online_threshold", "must be positive")
	}
	if s.UsageRateThreshold <= 0 || s.UsageRateThreshold > 1 {
		return invalid("stencil_overdue.usage_rate_threshold", "must be in (0, 1], got %v", s.UsageRateThreshold)
	}
	if strings.TrimSpace(s.MailGroup) == "" {
		return invalid("stencil_overdue.mail_group", "required")
	}
	if s.TestMode && strings.TrimSpace(s.TestRecipient) == "" {
		return invalid("stencil_overdue.test_recipient", "required in test mode")
	}
	if strings.TrimSpace(c.Mail.SMTPHost) == "" {
		return invalid("mail.smtp_host", "required")
	}
	if strings.TrimSpace(c.Mail.Sender) == "" {
		return invalid("mail.sender", "required")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
