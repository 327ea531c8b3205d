package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"MISSIONCONTROL_ADDR", "MISSIONCONTROL_DB", "GATEWAY_HOST", "GATEWAY_PORT", "GATEWAY_URL", "MISSIONCONTROL_NATS_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "mission_control.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:18789", cfg.GatewayAddr())
	assert.Empty(t, cfg.GatewayHealthURL())
	assert.Equal(t, time.Minute, cfg.CheckInterval())
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, uint64(120), cfg.Monitoring.NormalPriorityLimitMinutes)
	assert.Equal(t, uint64(30), cfg.Monitoring.UrgentPriorityLimitMinutes)
	assert.Equal(t, 100, cfg.Events.BufferSize)
	assert.Equal(t, "openclaw sessions spawn", cfg.Dispatch.Command)
	assert.False(t, cfg.Tasks.StrictTransitions)

	gw := cfg.GatewayConfig()
	assert.Equal(t, uint64(60), gw.CheckIntervalSeconds)
	assert.Equal(t, uint32(3), gw.MaxRestartAttempts)
	assert.Equal(t, uint64(30), gw.NotificationCooldownMinutes)
	assert.Equal(t, uint64(60), cfg.MonitoringConfig().NotificationCooldownMinutes)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "mc.yaml", `
server:
  addr: ":9000"
gateway:
  url: "http://gw.local:18789/"
  check_interval_seconds: 15
monitoring:
  urgent_priority_limit_minutes: 10
tasks:
  strict_transitions: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "http://gw.local:18789/api/models", cfg.GatewayHealthURL())
	assert.Equal(t, 15*time.Second, cfg.CheckInterval())
	assert.Equal(t, uint64(10), cfg.Monitoring.UrgentPriorityLimitMinutes)
	assert.Equal(t, uint64(120), cfg.Monitoring.NormalPriorityLimitMinutes, "unset fields keep defaults")
	assert.True(t, cfg.Tasks.StrictTransitions)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "mc.toml", `
[database]
path = "/var/lib/mc/mc.db"

[events]
nats_url = "nats://127.0.0.1:4222"
buffer_size = 16
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mc/mc.db", cfg.Database.Path)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
	assert.Equal(t, 16, cfg.Events.BufferSize)
	assert.Equal(t, "missioncontrol.events", cfg.Events.NATSSubject)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "mc.yaml", "gateway:\n  host: filehost\n")
	t.Setenv("GATEWAY_HOST", "envhost")
	t.Setenv("GATEWAY_PORT", "19000")
	t.Setenv("MISSIONCONTROL_DB", "/tmp/env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "envhost:19000", cfg.GatewayAddr())
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "server: [unterminated"))
	require.Error(t, err)

	t.Setenv("GATEWAY_PORT", "eighty")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Monitoring.UrgentPriorityLimitMinutes = 500
	cfg.Gateway.Port = 70000
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "urgent_priority_limit_minutes")
	assert.Contains(t, err.Error(), "gateway.port")
	assert.Contains(t, err.Error(), "log.format")
}

func TestValidate_RejectsZeroStuckLimits(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.UrgentPriorityLimitMinutes = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "urgent_priority_limit_minutes must be positive")

	cfg = Default()
	cfg.Monitoring.NormalPriorityLimitMinutes = 0
	cfg.Monitoring.UrgentPriorityLimitMinutes = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normal_priority_limit_minutes must be positive")
}
