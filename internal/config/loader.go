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
const DefaultConfigFile = "formpilot.yaml"

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
	setString(&cfg.Server.Port, "FORMPILOT_PORT")
	setString(&cfg.Server.CORSOrigin, "FORMPILOT_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORMPILOT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORMPILOT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORMPILOT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORMPILOT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORMPILOT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.MappingBucket, "FORMPILOT_MAPPING_BUCKET")
	setString(&cfg.NATS.IdempotencyBucket, "FORMPILOT_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.NATS.IdempotencyTTL, "FORMPILOT_IDEMPOTENCY_TTL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.Model, "FORMPILOT_AI_MODEL")
	setDuration(&cfg.OpenAI.Timeout, "FORMPILOT_AI_TIMEOUT")
	setInt(&cfg.OpenAI.MaxConcurrent, "FORMPILOT_AI_MAX_CONCURRENT")
	setString(&cfg.Forms.Dir, "FORMPILOT_FORMS_DIR")
	setInt64(&cfg.Forms.CacheSizeMB, "FORMPILOT_FORM_CACHE_SIZE_MB")
	setDuration(&cfg.Forms.CacheTTL, "FORMPILOT_FORM_CACHE_TTL")
	setString(&cfg.Forms.SharedCacheBucket, "FORMPILOT_FORM_SHARED_CACHE_BUCKET")
	setInt(&cfg.Session.HistoryHighWater, "FORMPILOT_HISTORY_HIGH_WATER")
	setInt(&cfg.Session.HistoryKeep, "FORMPILOT_HISTORY_KEEP")
	setInt(&cfg.Session.MailboxSize, "FORMPILOT_MAILBOX_SIZE")
	setDuration(&cfg.Session.IdleTimeout, "FORMPILOT_SESSION_IDLE_TIMEOUT")
	setInt(&cfg.Agents.ClassifierAttempts, "FORMPILOT_CLASSIFIER_ATTEMPTS")
	setInt(&cfg.Agents.ExtractorAttempts, "FORMPILOT_EXTRACTOR_ATTEMPTS")
	setInt(&cfg.Agents.BulkExtraAttempts, "FORMPILOT_BULK_EXTRA_ATTEMPTS")
	setInt(&cfg.Agents.ValidatorAttempts, "FORMPILOT_VALIDATOR_ATTEMPTS")
	setInt(&cfg.Agents.ResponderAttempts, "FORMPILOT_RESPONDER_ATTEMPTS")
	setInt(&cfg.Agents.RedirectAttempts, "FORMPILOT_REDIRECT_ATTEMPTS")
	setDuration(&cfg.Agents.RetryDelay, "FORMPILOT_RETRY_DELAY")
	setString(&cfg.Logging.Level, "FORMPILOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORMPILOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FORMPILOT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FORMPILOT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORMPILOT_BREAKER_TIMEOUT")
	setBool(&cfg.Telemetry.Enabled, "FORMPILOT_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "FORMPILOT_OTLP_ENDPOINT")
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
	if cfg.Session.HistoryKeep >= cfg.Session.HistoryHighWater {
		return errors.New("session.history_keep must be below session.history_high_water")
	}
	if cfg.Agents.ClassifierAttempts < 1 || cfg.Agents.ExtractorAttempts < 1 ||
		cfg.Agents.ValidatorAttempts < 1 || cfg.Agents.ResponderAttempts < 1 ||
		cfg.Agents.RedirectAttempts < 1 {
		return errors.New("agent attempt counts must be >= 1")
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
