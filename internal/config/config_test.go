package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
databases:
  Source:
    dsn: postgres://ames@db/ames
    schema: JHAMES
  target:
    driver: mysql
    dsn: jh:pw@tcp(db:3306)/jhdb
actual_time:
  output_dir: /var/es/out
  workers: 4
  export_formats: [xlsx]
stencil_overdue:
  mail_group: SMT_ALARM
mail:
  smtp_host: mail.local
  sender: ames@example.com
jobs:
  timeout: 15m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "es-schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "Logs", cfg.Log.Dir)

	source, err := cfg.Database("source")
	require.NoError(t, err)
	assert.Equal(t, "pgx", source.Driver)
	assert.Equal(t, "JHAMES", source.Schema)

	target, err := cfg.Database(StoreTarget)
	require.NoError(t, err)
	assert.Equal(t, "mysql", target.Driver)

	assert.Equal(t, 4, cfg.ActualTime.Workers)
	assert.Equal(t, "ACTUAL_ID", cfg.ActualTime.CounterName)
	assert.Equal(t, []string{"xlsx"}, cfg.ActualTime.ExportFormats)
	assert.Equal(t, "SMT_ALARM", cfg.StencilOverdue.MailGroup)
	assert.Equal(t, 7, cfg.StencilOverdue.DaysOnlineThreshold)
	assert.Equal(t, 0.95, cfg.StencilOverdue.UsageRateThreshold)
	assert.Equal(t, 25, cfg.Mail.SMTPPort)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.Timeout)

	require.NoError(t, cfg.ValidateActualTime())
	require.NoError(t, cfg.ValidateStencilOverdue())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ES_TARGET_DSN", "file:override.db")
	t.Setenv("ES_TARGET_DRIVER", "sqlite")
	t.Setenv("ES_SMTP_PORT", "2525")
	t.Setenv("ES_TEST_MODE", "true")
	t.Setenv("ES_TEST_RECIPIENT", "qa@example.com")
	t.Setenv("ES_EXPORT_FORMATS", "txt, xlsx")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	target, err := cfg.Database(StoreTarget)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", target.Driver)
	assert.Equal(t, "file:override.db", target.DSN)
	assert.Equal(t, 2525, cfg.Mail.SMTPPort)
	assert.True(t, cfg.StencilOverdue.TestMode)
	assert.Equal(t, []string{"txt", "xlsx"}, cfg.ActualTime.ExportFormats)
}

func TestLoadInvalidEnvBoolean(t *testing.T) {
	t.Setenv("ES_TEST_MODE", "maybe")
	_, err := Load("")
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ES_TEST_MODE", cfgErr.Key)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ES_SOURCE_DSN=postgres://from-dotenv\n"), 0o644))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("ES_SOURCE_DSN") })

	cfg, err := Load("")
	require.NoError(t, err)
	source, err := cfg.Database(StoreSource)
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-dotenv", source.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "log: [unterminated"))
	var cfgErr *Error
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidateActualTime(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateActualTime()
	require.ErrorIs(t, err, ErrMissingDatabase)

	cfg.Databases[StoreSource] = DatabaseConfig{Driver: "pgx", DSN: "x"}
	cfg.Databases[StoreTarget] = DatabaseConfig{Driver: "pgx", DSN: "y"}
	require.NoError(t, cfg.ValidateActualTime())

	cfg.ActualTime.CalcDate = "2024/03/01"
	var cfgErr *Error
	require.ErrorAs(t, cfg.ValidateActualTime(), &cfgErr)
	assert.Equal(t, "actual_time.calc_date", cfgErr.Key)

	cfg.ActualTime.CalcDate = ""
	cfg.ActualTime.OutputDir = " "
	require.ErrorAs(t, cfg.ValidateActualTime(), &cfgErr)
	assert.Equal(t, "actual_time.output_dir", cfgErr.Key)
}

func TestDatabaseTimezone(t *testing.T) {
	cfg := Default()
	cfg.Databases[StoreSource] = DatabaseConfig{Driver: "mysql", DSN: "x"}
	db, err := cfg.Database(StoreSource)
	require.NoError(t, err)
	loc, err := db.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	t.Setenv("ES_TARGET_DSN", "y")
	t.Setenv("ES_TARGET_TIMEZONE", "UTC")
	loaded, err := Load("")
	require.NoError(t, err)
	target, err := loaded.Database(StoreTarget)
	require.NoError(t, err)
	loc, err = target.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	cfg.Databases[StoreSource] = DatabaseConfig{Driver: "mysql", DSN: "x", Timezone: "Mars/Olympus"}
	_, err = cfg.Database(StoreSource)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "databases.source.timezone", cfgErr.Key)
}

func TestValidateStencilOverdue(t *testing.T) {
	base := Default()
	base.Databases[StoreTarget] = DatabaseConfig{Driver: "pgx", DSN: "y"}
	base.Mail.SMTPHost = "mail.local"
	base.Mail.Sender = "ames@example.com"
	require.NoError(t, base.ValidateStencilOverdue())

	cases := map[string]func(c *Config){
		"stencil_overdue.usage_rate_threshold":  func(c *Config) { c.StencilOverdue.UsageRateThreshold = 1.5 },
		"stencil_overdue.days_online_threshold": func(c *Config) { c.StencilOverdue.DaysOnlineThreshold = 0 },
		"stencil_overdue.test_recipient":        func(c *Config) { c.StencilOverdue.TestMode = true },
		"mail.smtp_host":                        func(c *Config) { c.Mail.SMTPHost = "" },
		"mail.sender":                           func(c *Config) { c.Mail.Sender = "" },
		"databases.source.dsn":                  func(c *Config) { c.StencilOverdue.Database = StoreSource },
	}
	for key, mutate := range cases {
		t.Run(key, func(t *testing.T) {
			cfg := base
			cfg.Databases = map[string]DatabaseConfig{}
			for k, v := range base.Databases {
				cfg.Databases[k] = v
			}
			mutate(&cfg)
			var cfgErr *Error
			require.ErrorAs(t, cfg.ValidateStencilOverdue(), &cfgErr)
			assert.Equal(t, key, cfgErr.Key)
		})
	}
}
