// Package config builds runtime configuration from environment variables so
// main stays lean. Compliance taxonomy (capability overrides, data-class
// audit modes, masking thresholds) lives in a separate YAML file loaded by
// the compliance package.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Postgres captures the database connection. Empty URL means the in-memory
// stores are used.
type Postgres struct {
	URL string
}

// Redis captures the Redis connection used for the sweep leader lock. Empty
// URL means single-instance mode with the local lock.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the operator alert channel. No brokers means alerts only
// reach the log.
type Kafka struct {
	Brokers    []string
	AlertTopic string
}

// Vault captures key-management settings. MasterKey seeds the key
// derivation; it must be at least 32 bytes. MaintenanceInterval is the
// cadence of the background run that migrates entries off retiring keys and
// expires keys past their grace period.
type Vault struct {
	MasterKey           string
	KeyGrace            time.Duration
	MaintenanceInterval time.Duration
}

// Retention captures the background sweep cadence.
type Retention struct {
	SweepInterval time.Duration
	LockLease     time.Duration
}

// Config is the full runtime configuration.
type Config struct {
	Server         Server
	Postgres       Postgres
	Redis          Redis
	Kafka          Kafka
	Vault          Vault
	Retention      Retention
	CompliancePath string
}

// FromEnv reads CUSTOS_* environment variables, applying development
// defaults for anything unset.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("CUSTOS_ADDR", ":8080"),
			JWTSigningKey:   envString("CUSTOS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			ReadTimeout:     envDuration("CUSTOS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    envDuration("CUSTOS_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDuration("CUSTOS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("CUSTOS_POSTGRES_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("CUSTOS_REDIS_URL"),
			PoolSize:     envInt("CUSTOS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CUSTOS_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("CUSTOS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CUSTOS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CUSTOS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    envList("CUSTOS_KAFKA_BROKERS"),
			AlertTopic: envString("CUSTOS_ALERT_TOPIC", "custos.compliance.alerts"),
		},
		Vault: Vault{
			MasterKey:           envString("CUSTOS_VAULT_MASTER_KEY", "dev-vault-master-key-0123456789abcdef"),
			KeyGrace:            envDuration("CUSTOS_VAULT_KEY_GRACE", 30*24*time.Hour),
			MaintenanceInterval: envDuration("CUSTOS_VAULT_MAINTENANCE_INTERVAL", time.Hour),
		},
		Retention: Retention{
			SweepInterval: envDuration("CUSTOS_SWEEP_INTERVAL", time.Hour),
			LockLease:     envDuration("CUSTOS_SWEEP_LOCK_LEASE", 15*time.Minute),
		},
		CompliancePath: os.Getenv("CUSTOS_COMPLIANCE_CONFIG"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
