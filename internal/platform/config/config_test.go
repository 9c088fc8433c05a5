package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Empty(t, cfg.Postgres.URL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, "custos.compliance.alerts", cfg.Kafka.AlertTopic)
	assert.Equal(t, 30*24*time.Hour, cfg.Vault.KeyGrace)
	assert.Equal(t, time.Hour, cfg.Vault.MaintenanceInterval)
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CUSTOS_ADDR", ":9999")
	t.Setenv("CUSTOS_POSTGRES_URL", "postgres://localhost:5432/custos")
	t.Setenv("CUSTOS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CUSTOS_REDIS_POOL_SIZE", "32")
	t.Setenv("CUSTOS_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092 ,")
	t.Setenv("CUSTOS_VAULT_KEY_GRACE", "168h")
	t.Setenv("CUSTOS_VAULT_MAINTENANCE_INTERVAL", "15m")
	t.Setenv("CUSTOS_SWEEP_INTERVAL", "30m")
	t.Setenv("CUSTOS_COMPLIANCE_CONFIG", "/etc/custos/compliance.yaml")

	cfg := FromEnv()

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost:5432/custos", cfg.Postgres.URL)
	assert.Equal(t, 32, cfg.Redis.PoolSize)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 168*time.Hour, cfg.Vault.KeyGrace)
	assert.Equal(t, 15*time.Minute, cfg.Vault.MaintenanceInterval)
	assert.Equal(t, 30*time.Minute, cfg.Retention.SweepInterval)
	assert.Equal(t, "/etc/custos/compliance.yaml", cfg.CompliancePath)
}

func TestFromEnv_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("CUSTOS_REDIS_POOL_SIZE", "many")
	t.Setenv("CUSTOS_SWEEP_INTERVAL", "soon")

	cfg := FromEnv()

	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval)
}
