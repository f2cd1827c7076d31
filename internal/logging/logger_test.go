package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync()
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = false
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestContextFieldsInjected(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(context.Background(), "req_42")
	ctx = WithShape(ctx, "context_heavy")

	tl.Info(ctx, "step complete", zap.String("step", "gather"))

	entries := tl.FilterMessage("step complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req_42", fields["request.id"])
	assert.Equal(t, "context_heavy", fields["pipeline.shape"])
	assert.Equal(t, "gather", fields["step"])
}

func TestTraceLevelGated(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.InfoLevel
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(TraceLevel))
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"bogus", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChildLoggers(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("assembler").With(zap.String("component", "fanout"))
	child.Info(context.Background(), "fetched")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "assembler", entries[0].LoggerName)
	assert.Equal(t, "fanout", entries[0].ContextMap()["component"])
}
