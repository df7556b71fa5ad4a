package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"stdout", "stdout"},
		{"stderr", "stderr"},
		{"empty defaults to stderr", ""},
		{"discard", "discard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: tt.output})
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "netstick.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	require.NoError(t, err)

	logger.Info("scan started", "scan_id", "abc")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scan started")
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level     LogLevel
		wantDebug bool
		wantWarn  bool
	}{
		{LevelDebug, true, true},
		{LevelInfo, false, true},
		{LevelWarn, false, true},
		{LevelError, false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(Config{Level: tt.level, Format: FormatText}, &buf)

			logger.Debug("debug-line")
			logger.Warn("warn-line")

			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "debug-line"))
			assert.Equal(t, tt.wantWarn, strings.Contains(buf.String(), "warn-line"))
		})
	}
}

func TestJSONFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	logger.WithComponent("channel").WithScanID("s-1").WithPeer("10.0.0.9:5000").Info("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "channel", entry["component"])
	assert.Equal(t, "s-1", entry["scan_id"])
	assert.Equal(t, "10.0.0.9:5000", entry["peer"])
	assert.Equal(t, "connected", entry["msg"])
}

func TestScanHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	logger.InfoScan("port scan finished", "192.168.1.10", "open", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "192.168.1.10", entry["target"])
	assert.EqualValues(t, 3, entry["open"])
}

func TestDebugWireTruncatesPreview(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	payload := []byte(strings.Repeat("x", 250))
	logger.DebugWire("rx", payload)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rx", entry["direction"])
	assert.EqualValues(t, 250, entry["len"])
	assert.Len(t, entry["preview"], 100)
}

func TestDefaultLoggerReplacement(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelInfo, Format: FormatText}, &buf))

	Info("hello from default")
	assert.Contains(t, buf.String(), "hello from default")
}
