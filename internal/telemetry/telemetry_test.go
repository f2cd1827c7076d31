package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	require.False(t, cfg.Enabled)

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tel)

	// Disabled telemetry yields working no-op providers.
	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips validation", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, ""},
		{"remote insecure rejected", func(c *Config) { c.Endpoint = "collector.example.com:4317" }, "insecure connections"},
		{"local insecure allowed", func(c *Config) { c.Endpoint = "127.0.0.1:4317" }, ""},
		{"bad sampling rate", func(c *Config) { c.Sampling.Rate = 1.5 }, "sampling.rate"},
		{"bad protocol", func(c *Config) { c.Protocol = "thrift" }, "protocol"},
		{"zero export interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, "export_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "assemble.fanout")
	span.End()

	tt.AssertSpanExists(t, "assemble.fanout")
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestNilSafety(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
}
