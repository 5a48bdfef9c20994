package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "promptdeck.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PROMPTDECK_PORT")
	setString(&cfg.Server.CORSOrigin, "PROMPTDECK_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PROMPTDECK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PROMPTDECK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PROMPTDECK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PROMPTDECK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PROMPTDECK_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Scoring.BaseURL, "SCORING_URL")
	setString(&cfg.Scoring.APIKey, "SCORING_API_KEY")
	setDuration(&cfg.Scoring.Timeout, "PROMPTDECK_SCORING_TIMEOUT")
	setString(&cfg.Logging.Level, "PROMPTDECK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PROMPTDECK_LOG_SERVICE")
	setString(&cfg.Logging.Format, "PROMPTDECK_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "PROMPTDECK_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "PROMPTDECK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PROMPTDECK_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "PROMPTDECK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "PROMPTDECK_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "PROMPTDECK_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "PROMPTDECK_RATE_MAX_IDLE_TIME")
	setInt64(&cfg.Cache.L1MaxSizeMB, "PROMPTDECK_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "PROMPTDECK_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "PROMPTDECK_CACHE_TTL")
	setDuration(&cfg.Decision.EvalInterval, "PROMPTDECK_EVAL_INTERVAL")
	setInt(&cfg.Decision.MaxParallel, "PROMPTDECK_EVAL_MAX_PARALLEL")
	setBool(&cfg.MCP.Enabled, "PROMPTDECK_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "PROMPTDECK_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "PROMPTDECK_MCP_API_KEY")
	setBool(&cfg.Otel.Enabled, "PROMPTDECK_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "PROMPTDECK_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Decision.EvalInterval <= 0 {
		return errors.New("decision.eval_interval must be positive")
	}
	if cfg.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if cfg.Otel.Enabled && cfg.Otel.Endpoint == "" {
		return errors.New("otel.endpoint is required when otel is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
