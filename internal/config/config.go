/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration. Values come from an optional
// YAML config file overridden by VAKT_* environment variables.
type Config struct {
	Environment string
	LogLevel    string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://roster.example.com:8080)

	DBBackend         DatabaseBackend
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JWTSigningKey string
	TokenTTL      time.Duration

	// Instance uploads
	MaxInstanceSizeMB int // Optional upload limit for instance files (MB)

	// Solver defaults for API-triggered runs
	SolveTimeout   time.Duration
	SolveStopEarly bool // stop the fill at the first requirement left short

	// Run worker
	WorkerEnabled      bool
	WorkerPollInterval time.Duration

	// Redis (result cache + leader election); empty addr disables both
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CacheTTL              time.Duration
	LeaderElectionEnabled bool
	InstanceID            string

	// NATS event bridge; empty URL disables it
	NATSURL string

	// S3-compatible archive for run exports; empty bucket disables it
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Garage, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	ArchiveLocalDir   string // Local directory archive, used when no bucket is set

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads the config file named by VAKT_CONFIG_FILE (if any), applies
// environment variables on top, then validates the result.
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv("VAKT_CONFIG_FILE"))
}

// LoadWithFile is Load with an explicit config file path, used by the
// --config CLI flag. An empty path means environment only.
func LoadWithFile(path string) (*Config, error) {
	var file fileValues
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Environment: getEnv("VAKT_ENV", file.str("environment", "development")),
		LogLevel:    getEnv("VAKT_LOG_LEVEL", file.str("log_level", "")),
		HTTPBind:    getEnv("VAKT_HTTP_BIND", file.str("http_bind", "0.0.0.0")),
		HTTPPort:    getEnvInt("VAKT_HTTP_PORT", file.num("http_port", 8080)),
		BaseURL:     getEnv("VAKT_BASE_URL", file.str("base_url", "")),

		DBBackend:         DatabaseBackend(getEnv("VAKT_DB_BACKEND", file.str("db_backend", string(DatabaseSQLite)))),
		DBDSN:             getEnv("VAKT_DB_DSN", file.str("db_dsn", "vakt.db")),
		DBMaxOpenConns:    getEnvInt("VAKT_DB_MAX_OPEN_CONNS", file.num("db_max_open_conns", 25)),
		DBMaxIdleConns:    getEnvInt("VAKT_DB_MAX_IDLE_CONNS", file.num("db_max_idle_conns", 5)),
		DBConnMaxLifetime: time.Duration(getEnvInt("VAKT_DB_CONN_MAX_LIFETIME_MINUTES", file.num("db_conn_max_lifetime_minutes", 30))) * time.Minute,

		JWTSigningKey: getEnv("VAKT_JWT_SIGNING_KEY", file.str("jwt_signing_key", "")),
		TokenTTL:      time.Duration(getEnvInt("VAKT_TOKEN_TTL_HOURS", file.num("token_ttl_hours", 24))) * time.Hour,

		MaxInstanceSizeMB: getEnvInt("VAKT_MAX_INSTANCE_SIZE_MB", file.num("max_instance_size_mb", 10)),

		SolveTimeout:   time.Duration(getEnvInt("VAKT_SOLVE_TIMEOUT_SECONDS", file.num("solve_timeout_seconds", 60))) * time.Second,
		SolveStopEarly: getEnvBool("VAKT_SOLVE_STOP_EARLY", file.boolean("solve_stop_early", false)),

		WorkerEnabled:      getEnvBool("VAKT_WORKER_ENABLED", file.boolean("worker_enabled", true)),
		WorkerPollInterval: time.Duration(getEnvInt("VAKT_WORKER_POLL_INTERVAL_SECONDS", file.num("worker_poll_interval_seconds", 2))) * time.Second,

		RedisAddr:             getEnv("VAKT_REDIS_ADDR", file.str("redis_addr", "")),
		RedisPassword:         getEnv("VAKT_REDIS_PASSWORD", file.str("redis_password", "")),
		RedisDB:               getEnvInt("VAKT_REDIS_DB", file.num("redis_db", 0)),
		CacheTTL:              time.Duration(getEnvInt("VAKT_CACHE_TTL_MINUTES", file.num("cache_ttl_minutes", 60))) * time.Minute,
		LeaderElectionEnabled: getEnvBool("VAKT_LEADER_ELECTION_ENABLED", file.boolean("leader_election_enabled", false)),
		InstanceID:            getEnv("VAKT_INSTANCE_ID", file.str("instance_id", "")),

		NATSURL: getEnv("VAKT_NATS_URL", file.str("nats_url", "")),

		S3AccessKeyID:     getEnv("VAKT_S3_ACCESS_KEY_ID", os.Getenv("AWS_ACCESS_KEY_ID")),
		S3SecretAccessKey: getEnv("VAKT_S3_SECRET_ACCESS_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
		S3Region:          getEnv("VAKT_S3_REGION", file.str("s3_region", "us-east-1")),
		S3Bucket:          getEnv("VAKT_S3_BUCKET", file.str("s3_bucket", "")),
		S3Endpoint:        getEnv("VAKT_S3_ENDPOINT", file.str("s3_endpoint", "")),
		S3UsePathStyle:    getEnvBool("VAKT_S3_USE_PATH_STYLE", file.boolean("s3_use_path_style", false)),
		ArchiveLocalDir:   getEnv("VAKT_ARCHIVE_LOCAL_DIR", file.str("archive_local_dir", "")),

		TracingEnabled:    getEnvBool("VAKT_TRACING_ENABLED", file.boolean("tracing_enabled", false)),
		OTLPEndpoint:      getEnv("VAKT_OTLP_ENDPOINT", file.str("otlp_endpoint", "localhost:4317")),
		TracingSampleRate: getEnvFloat("VAKT_TRACING_SAMPLE_RATE", file.float("tracing_sample_rate", 1.0)),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBBackend != DatabaseSQLite && cfg.DBDSN == "vakt.db" {
		return nil, fmt.Errorf("VAKT_DB_DSN must be provided for the %s backend", cfg.DBBackend)
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("VAKT_JWT_SIGNING_KEY must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 32 {
			return nil, fmt.Errorf("VAKT_JWT_SIGNING_KEY must be at least 32 bytes in production")
		}
		if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
			return nil, fmt.Errorf("VAKT_REDIS_ADDR is required when leader election is enabled")
		}
	}

	return cfg, nil
}

// MaxInstanceSizeBytes returns the configured instance upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxInstanceSizeBytes() int64 {
	if c == nil || c.MaxInstanceSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxInstanceSizeMB) * 1024 * 1024
}

// CacheEnabled reports whether the Redis result cache should be wired up.
func (c *Config) CacheEnabled() bool {
	return c != nil && c.RedisAddr != ""
}

// ArchiveEnabled reports whether run exports should be archived.
func (c *Config) ArchiveEnabled() bool {
	return c != nil && (c.S3Bucket != "" || c.ArchiveLocalDir != "")
}

// fileValues holds raw config file keys. Scalars are kept loose so a missing
// key is distinguishable from a zero value.
type fileValues map[string]any

func (f fileValues) str(key, def string) string {
	if v, ok := f[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (f fileValues) num(key string, def int) int {
	switch v := f[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func (f fileValues) float(key string, def float64) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func (f fileValues) boolean(key string, def bool) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return def
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
