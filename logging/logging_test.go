package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected zapcore.Level
		wantErr  bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			level, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLoggers(t *testing.T) {
	assert.True(t, NewDebugLogger("test").Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.False(t, NewLogger("test").Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.False(t, NewNopLogger().Desugar().Core().Enabled(zapcore.ErrorLevel))

	logger, err := NewJSONLogger("test", zapcore.WarnLevel)
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel))

	NewTestLogger(t).Infow("test logger writes through testing.T", "ok", true)
}

func TestNewWriterLogger(t *testing.T) {
	var console bytes.Buffer
	logger := NewWriterLogger("recognize", zapcore.InfoLevel, false, &console)
	logger.Debugw("hidden")
	logger.Infow("pipeline ready", "width", 300)
	require.NoError(t, logger.Sync())
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "recognize")
	assert.Contains(t, console.String(), "pipeline ready")
	assert.Contains(t, console.String(), "300")

	var lines bytes.Buffer
	logger = NewWriterLogger("recognize", zapcore.DebugLevel, true, &lines)
	logger.Debugw("frame recognized", "seq", 7)
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(lines.String())), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "frame recognized", entry["msg"])
	assert.Equal(t, "recognize", entry["logger"])
	assert.EqualValues(t, 7, entry["seq"])
}
