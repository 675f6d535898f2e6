package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
		enable zapcore.Level
	}{
		{"debug console", "debug", "console", zapcore.DebugLevel},
		{"warn json", "warn", "json", zapcore.WarnLevel},
		{"info json", "info", "json", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enable))
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}

func TestMustPanicsOnBadLevel(t *testing.T) {
	assert.Panics(t, func() { Must("loud", "json") })
}
