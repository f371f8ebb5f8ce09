package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestNewWritesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := New(Config{Level: "info", Dir: dir}, time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("job", "ActualTimeCalc").Msg("started")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "2024-03-05.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "started", entry["message"])
	assert.Equal(t, "ActualTimeCalc", entry["job"])
	assert.Equal(t, "info", entry["level"])
}
