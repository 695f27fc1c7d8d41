package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-guardian/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GUARDIAN_LOG_LEVEL", "GUARDIAN_ENVIRONMENT", "GUARDIAN_DATABASE_URL", "GUARDIAN_REDIS_ADDR",
		"GUARDIAN_REDIS_PASSWORD", "GUARDIAN_REDIS_DB", "GUARDIAN_OTLP_ENDPOINT", "GUARDIAN_POLICY_FILE",
		"GUARDIAN_TIMELOCK_UNIT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, time.Hour, cfg.TimelockUnit)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUARDIAN_LOG_LEVEL", "debug")
	t.Setenv("GUARDIAN_DATABASE_URL", "postgres://guardian@db:5432/guardian")
	t.Setenv("GUARDIAN_REDIS_ADDR", "redis:6379")
	t.Setenv("GUARDIAN_REDIS_DB", "2")
	t.Setenv("GUARDIAN_TIMELOCK_UNIT", "2s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 2*time.Second, cfg.TimelockUnit)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUARDIAN_TIMELOCK_UNIT", "soon")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("GUARDIAN_TIMELOCK_UNIT", "-1s")
	_, err = config.Load()
	assert.Error(t, err)

	t.Setenv("GUARDIAN_TIMELOCK_UNIT", "")
	t.Setenv("GUARDIAN_REDIS_DB", "zero")
	_, err = config.Load()
	assert.Error(t, err)
}

const samplePolicy = `
version: 1.2.0
quorum:
  large_payment: 500
  max_signatures: 4
  monitor_urgency: 70
roster_buffer: 1
min_confidence: 0.8
monitor:
  timeout: 10m
  poll_interval: 30s
  response_threshold: 0.6
confirmation:
  base_ms: 500
  max_ms: 5000
  max_jitter_ms: 100
  max_attempts: 6
retention: 48h
notify:
  rate_per_second: 5
  burst: 2
`

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	p, err := config.LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.Quorum.LargePayment)
	assert.Equal(t, 4, p.Quorum.MaxSignatures)
	require.NotNil(t, p.RosterBuffer)
	assert.Equal(t, 1, *p.RosterBuffer)
	assert.Equal(t, 10*time.Minute, p.Monitor.Timeout)
	assert.Equal(t, 30*time.Second, p.Monitor.PollInterval)
	assert.Equal(t, 6, p.Confirmation.MaxAttempts)
	assert.Equal(t, 48*time.Hour, p.Retention)

	ec := p.EngineConfig(time.Minute)
	assert.Equal(t, time.Minute, ec.TimelockUnit)
	assert.InDelta(t, 0.8, ec.MinConfidence, 1e-9)
	assert.Equal(t, 10*time.Minute, ec.MonitorTimeout)
	assert.Equal(t, int64(500), ec.Confirm.BaseMs)
}

func TestParsePolicy_VersionGate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"missing version", "quorum: {max_signatures: 3}", true},
		{"garbage version", "version: next", true},
		{"major two", "version: 2.0.0", true},
		{"major zero", "version: 0.9.0", true},
		{"supported", "version: 1.0.0", false},
		{"bad threshold", "version: 1.0.0\nmonitor: {response_threshold: 1.5}", true},
		{"negative buffer", "version: 1.0.0\nroster_buffer: -1", true},
		{"urgency out of range", "version: 1.0.0\nquorum: {monitor_urgency: 120}", true},
		{"malformed yaml", "version: [", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParsePolicy([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := config.LoadPolicyFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEngineConfig_FillsQuorumDefaults(t *testing.T) {
	p, err := config.ParsePolicy([]byte("version: 1.0.0\nquorum:\n  max_signatures: 4\n"))
	require.NoError(t, err)

	ec := p.EngineConfig(time.Hour)
	assert.Equal(t, 4, ec.Policy.MaxSignatures)
	assert.Equal(t, int64(100), ec.Policy.LargePayment)
	assert.Equal(t, 80, ec.Policy.MonitorUrgency)
}
