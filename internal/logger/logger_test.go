package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		level zapcore.Level
	}{
		{"debug console", Config{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{"info json", Config{Level: "info", Format: "json"}, zapcore.InfoLevel},
		{"warn json", Config{Level: "warn", Format: "json"}, zapcore.WarnLevel},
		{"unknown level falls back to info", Config{Level: "loud", Format: "json"}, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(&tt.cfg)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.level-1))
			}
		})
	}
}

func TestComponentNilLogger(t *testing.T) {
	l := Component(nil, "poller")
	assert.NotNil(t, l)
	l.Info("does not panic", zap.Int("n", 1))
}
