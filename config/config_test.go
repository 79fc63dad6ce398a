package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, 1883, cfg.Server.MQTTPort)
	require.Equal(t, 3000, cfg.Server.HTTPPort)
	require.Equal(t, 3001, cfg.Management.Port)
	require.Equal(t, 1024, cfg.Broker.MessageMaxLength)
	require.Equal(t, time.Second, cfg.Broker.PublishRateLimit)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.Bridge.Enabled)
	require.Equal(t, 30, cfg.Timeseries.RetentionDays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "default config is valid", modify: func(c *Config) {}, wantErr: false},
		{name: "mqtt port out of range", modify: func(c *Config) { c.Server.MQTTPort = 0 }, wantErr: true},
		{name: "http port out of range", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: true},
		{name: "message max length non-positive", modify: func(c *Config) { c.Broker.MessageMaxLength = 0 }, wantErr: true},
		{name: "invalid log level", modify: func(c *Config) { c.Log.Level = "verbose" }, wantErr: true},
		{name: "invalid log format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{
			name: "timeseries enabled without bucket",
			modify: func(c *Config) {
				c.Timeseries.Enabled = true
				c.Timeseries.Bucket = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoadMissingOverrideFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, 1883, cfg.Server.MQTTPort)
}

func TestLoadOverrideFileIsLayeredUnderEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  mqtt_port: 11883\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 11883, cfg.Server.MQTTPort)

	t.Setenv("MQTT_PORT", "21883")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 21883, cfg.Server.MQTTPort, "environment must win over the override file")
}

func TestApplyEnvParsesMillisecondDurations(t *testing.T) {
	t.Setenv("PUBLISH_RATE_LIMIT", "250")
	cfg := Default()
	require.NoError(t, cfg.applyEnv())
	require.Equal(t, 250*time.Millisecond, cfg.Broker.PublishRateLimit)
}

func TestApplyEnvRejectsMalformedInt(t *testing.T) {
	t.Setenv("MQTT_PORT", "not-a-number")
	cfg := Default()
	require.Error(t, cfg.applyEnv())
}

func TestMQTTAddr(t *testing.T) {
	cfg := Default()
	require.Equal(t, "0.0.0.0:1883", cfg.MQTTAddr())
}
