package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-schedule/internal/jobs"
	"es-schedule/internal/platform/database"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := ExecuteArgs(args, Options{
		Stdout: &stdout,
		Stderr: &stderr,
		Env:    jobs.Env{Clock: fixedClock{now: time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)}},
	})
	return code, stdout.String(), stderr.String()
}

func writeSQLiteConfig(t *testing.T) (string, string) {
	t.Helper()
	database.QuietMigrations()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "store.db") + "?_time_format=sqlite&_pragma=busy_timeout(5000)"
	logDir := filepath.Join(dir, "logs")
	body := fmt.Sprintf(`
log:
  level: info
  dir: %q
  console: false
databases:
  source: {driver: sqlite, dsn: %q, max_open_conns: 1}
  target: {driver: sqlite, dsn: %q, max_open_conns: 1}
actual_time:
  output_dir: %q
`, logDir, dsn, dsn, filepath.Join(dir, "out"))
	path := filepath.Join(dir, "es-schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, logDir
}

func TestBareInvocationListsJobs(t *testing.T) {
	code, stdout, _ := run(t)
	assert.Equal(t, jobs.ExitParameterError, code)
	assert.Contains(t, stdout, jobs.ActualTimeJobName)
	assert.Contains(t, stdout, jobs.StencilOverdueJobName)
}

func TestListCommand(t *testing.T) {
	code, stdout, _ := run(t, "list")
	assert.Equal(t, jobs.ExitSuccess, code)
	assert.Contains(t, stdout, jobs.StencilOverdueJobName)
}

func TestUnknownJob(t *testing.T) {
	code, _, stderr := run(t, "RepairRecordsTransfer")
	assert.Equal(t, jobs.ExitParameterError, code)
	assert.Contains(t, stderr, "unknown job")

	code, _, _ = run(t, "run")
	assert.Equal(t, jobs.ExitParameterError, code, "run needs a job name")
}

func TestMissingConfigFile(t *testing.T) {
	code, _, stderr := run(t, "run", "ActualTimeCalc", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, jobs.ExitConfigError, code)
	assert.Contains(t, stderr, "load configuration")
}

func TestMigrateThenRun(t *testing.T) {
	path, logDir := writeSQLiteConfig(t)

	code, _, stderr := run(t, "migrate", "all", "--config", path)
	require.Equal(t, jobs.ExitSuccess, code, stderr)

	code, _, stderr = run(t, "actualtimecalc", "--config", path, "--date", "2024-03-05")
	require.Equal(t, jobs.ExitSuccess, code, stderr)

	raw, err := os.ReadFile(filepath.Join(logDir, "2024-03-08.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"job":"ActualTimeCalc"`)
	assert.Contains(t, string(raw), `"calc_date":"2024-03-05"`)
}

func TestConfigFromEnvironment(t *testing.T) {
	path, _ := writeSQLiteConfig(t)
	t.Setenv("ES_CONFIG", path)

	code, _, stderr := run(t, "migrate", "target")
	assert.Equal(t, jobs.ExitSuccess, code, stderr)

	code, _, stderr = run(t, "migrate", "warehouse")
	assert.Equal(t, jobs.ExitParameterError, code)
	assert.Contains(t, stderr, "unknown store")
}

func TestInvalidDateFlag(t *testing.T) {
	path, _ := writeSQLiteConfig(t)
	code, _, _ := run(t, "run", "ActualTimeCalc", "--config", path, "--date", "03/05/2024")
	assert.Equal(t, jobs.ExitParameterError, code)
}
