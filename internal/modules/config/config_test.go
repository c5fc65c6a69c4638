package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Service.PublicPort)
	assert.Equal(t, "Asia/Kolkata", cfg.Market.Timezone)
	assert.Equal(t, "09:15", cfg.Market.KickoffAt)
	assert.Equal(t, "2885", cfg.Engine.SampleExchangeToken)
	assert.Equal(t, 10*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.InDelta(t, 0.07, cfg.Orders.LimitPct, 1e-9)
	assert.Equal(t, 2, cfg.Orders.ExitTickSteps)
}

func TestLoad_FileAndEnv(t *testing.T) {
	p := writeFile(t, `
service:
  public_port: 9000
db_dsn: postgres://file
broker:
  timeout: 3s
kafka:
  brokers: [k1:9092, k2:9092]
engine:
  workers: 2
`)
	t.Setenv("ENGINE_WORKERS", "16")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("DATABASE_DSN", "postgres://env")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.PublicPort)
	assert.Equal(t, 3*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
	assert.Equal(t, "postgres://env", cfg.DB)
}

func TestLoad_BrokenFile(t *testing.T) {
	p := writeFile(t, "service: [")
	_, err := Load(p)
	assert.Error(t, err)
}
