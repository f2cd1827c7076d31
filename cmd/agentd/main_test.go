package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/logging"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "agentd by Fyrsmith Labs")
	assert.Contains(t, out.String(), "Version:")
}

func TestUnknownCommand(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"bogus"})
	assert.Error(t, root.Execute())
}

func TestTelemetryConfigMapping(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Observability.EnableTelemetry = true
	cfg.Observability.ServiceName = "agentd-test"
	cfg.Observability.Endpoint = "localhost:4317"

	tc := telemetryConfig(cfg)
	assert.True(t, tc.Enabled)
	assert.Equal(t, "agentd-test", tc.ServiceName)
	assert.Equal(t, "localhost:4317", tc.Endpoint)
	require.NoError(t, tc.Validate())
}

func TestLoggingConfigMapping(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"

	lc := loggingConfig(cfg)
	assert.Equal(t, zapcore.DebugLevel, lc.Level)
	assert.Equal(t, "console", lc.Format)

	cfg.Logging.Level = "trace"
	assert.Equal(t, logging.TraceLevel, loggingConfig(cfg).Level)
}

func TestNewAdaptersHonorsSourceToggles(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Sources.History = true
	cfg.Sources.Scratch = true
	cfg.Sources.Vector = false
	cfg.Sources.Repository = false

	history, adapters, err := newAdapters(cfg)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Len(t, adapters, 2)

	cfg.Sources.History = false
	cfg.Sources.Scratch = false
	history, adapters, err = newAdapters(cfg)
	require.NoError(t, err)
	assert.Nil(t, history)
	assert.Empty(t, adapters)
}
