package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nav-strike-engine/internal/domain"
)

const (
	vaultAccount  = "11111111111111111111111111111111"
	issuerAccount = "So11111111111111111111111111111111111111112"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
fund:
  id: fund-1
  initial_nav: "1.05"
  schedule: ["12:00", "09:30"]
  timezone: America/New_York
  settlement_account: `+vaultAccount+`
  share_issuer_account: `+issuerAccount+`
gateway:
  rpc_endpoint: http://ledger:8899
  confirmation_timeout: 45s
strike:
  workers: 8
  retry_attempts: 3
  batch_order: redemptions_first
storage:
  use_memory: true
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "fund-1", cfg.Fund.ID)
	assert.Equal(t, []string{"12:00", "09:30"}, cfg.Fund.Schedule)
	assert.Equal(t, 45*time.Second, cfg.Gateway.ConfirmationTimeout)
	assert.Equal(t, 8, cfg.Strike.Workers)
	assert.Equal(t, 3, cfg.Strike.RetryAttempts)
	assert.Equal(t, "redemptions_first", cfg.Strike.BatchOrder)
	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)

	nav, err := cfg.InitialNAV()
	require.NoError(t, err)
	assert.Equal(t, "1.05", nav.String())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	// Untouched keys get defaults.
	assert.Equal(t, 2*time.Second, cfg.Gateway.PollInterval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "navstrike", cfg.Kafka.TopicPrefix)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Fund.InitialNAV)
	assert.Equal(t, []string{"09:30", "16:00"}, cfg.Fund.Schedule)
	assert.Equal(t, "UTC", cfg.Fund.Timezone)
	assert.Equal(t, 60*time.Second, cfg.Gateway.ConfirmationTimeout)
	assert.Equal(t, 4, cfg.Strike.Workers)
	assert.Equal(t, 1, cfg.Strike.RetryAttempts)
	assert.Equal(t, "subscriptions_first", cfg.Strike.BatchOrder)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "fund:\n  id: from-file\n")

	t.Setenv("NAVSTRIKE_FUND_ID", "from-env")
	t.Setenv("NAVSTRIKE_SCHEDULE", "08:00, 14:30")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("CONFIRMATION_TIMEOUT", "90s")
	t.Setenv("STRIKE_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Fund.ID)
	assert.Equal(t, []string{"08:00", "14:30"}, cfg.Fund.Schedule)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, 90*time.Second, cfg.Gateway.ConfirmationTimeout)
	assert.Equal(t, 2, cfg.Strike.Workers)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("STRIKE_WORKERS", "many")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "fund: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	for _, key := range []string{"NAVSTRIKE_FUND_ID", "POSTGRES_DSN", "USE_MEMORY", "LEDGER_RPC_ENDPOINT", "SHARE_ISSUER_ACCOUNT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Fund.InitialNAV = "-1"
	cfg.Fund.Schedule = []string{"25:00"}
	cfg.Fund.SettlementAccount = "not-base58-0OIl"
	cfg.Strike.BatchOrder = "random"

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	msg := err.Error()
	for _, want := range []string{
		"fund.id is required",
		"fund.initial_nav must be positive",
		"fund.schedule",
		"fund.settlement_account",
		"fund.share_issuer_account",
		"gateway.rpc_endpoint is required",
		"strike.batch_order",
		"storage.postgres_dsn is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", `
# comment
NAVSTRIKE_TEST_A=alpha
NAVSTRIKE_TEST_B="quoted"
NAVSTRIKE_TEST_C=from-file
malformed line
`)
	t.Setenv("NAVSTRIKE_TEST_C", "preset")
	os.Unsetenv("NAVSTRIKE_TEST_A")
	os.Unsetenv("NAVSTRIKE_TEST_B")
	t.Cleanup(func() {
		os.Unsetenv("NAVSTRIKE_TEST_A")
		os.Unsetenv("NAVSTRIKE_TEST_B")
	})

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "alpha", os.Getenv("NAVSTRIKE_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("NAVSTRIKE_TEST_B"))
	assert.Equal(t, "preset", os.Getenv("NAVSTRIKE_TEST_C"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
