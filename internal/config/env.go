package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration.
type EnvConfig struct {
	// Host is the status API host to bind to.
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the status API port to listen on.
	// Env: PORT (default: 8080)
	Port int `envconfig:"PORT" default:"8080"`

	// DBURL is the database connection URL.
	// Env: DB_URL (default: sqlite:///vecsync.db)
	DBURL string `envconfig:"DB_URL"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// ModelDir holds local embedding models.
	// Env: MODEL_DIR (default: models)
	ModelDir string `envconfig:"MODEL_DIR" default:"models"`

	// Worker configures the worker process.
	Worker WorkerEnv `envconfig:"WORKER"`

	// Embedding configures provider calls.
	Embedding EmbeddingEnv `envconfig:"EMBEDDING"`
}

// WorkerEnv holds environment configuration for the worker.
type WorkerEnv struct {
	// PollInterval is a duration or an integer number of seconds.
	// Env: WORKER_POLL_INTERVAL (default: 5m)
	PollInterval string `envconfig:"POLL_INTERVAL" default:"5m"`

	// Concurrency overrides each vectorizer's execution path count when > 0.
	// Env: WORKER_CONCURRENCY (default: 0)
	Concurrency int `envconfig:"CONCURRENCY" default:"0"`

	// Listen enables LISTEN/NOTIFY wake-ups on PostgreSQL.
	// Env: WORKER_LISTEN (default: false)
	Listen bool `envconfig:"LISTEN" default:"false"`
}

// EmbeddingEnv holds environment configuration for embedding calls.
type EmbeddingEnv struct {
	// MaxAttempts bounds retries of transient failures.
	// Env: EMBEDDING_MAX_ATTEMPTS (default: 6)
	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"6"`

	// MaxRateLimitAttempts bounds retries of rate-limited calls.
	// Env: EMBEDDING_MAX_RATE_LIMIT_ATTEMPTS (default: 20)
	MaxRateLimitAttempts int `envconfig:"MAX_RATE_LIMIT_ATTEMPTS" default:"20"`

	// InitialDelay is the first backoff delay.
	// Env: EMBEDDING_INITIAL_DELAY (default: 1s)
	InitialDelay time.Duration `envconfig:"INITIAL_DELAY" default:"1s"`

	// MaxDelay caps the backoff delay.
	// Env: EMBEDDING_MAX_DELAY (default: 60s)
	MaxDelay time.Duration `envconfig:"MAX_DELAY" default:"60s"`

	// Timeout is the HTTP timeout per provider call.
	// Env: EMBEDDING_TIMEOUT (default: 60s)
	Timeout time.Duration `envconfig:"TIMEOUT" default:"60s"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() (AppConfig, error) {
	cfg := NewAppConfig()

	if e.Host != "" {
		cfg = applyOption(cfg, WithHost(e.Host))
	}
	if e.Port != 0 {
		cfg = applyOption(cfg, WithPort(e.Port))
	}
	if e.DBURL != "" {
		cfg = applyOption(cfg, WithDBURL(e.DBURL))
	}
	if e.LogLevel != "" {
		cfg = applyOption(cfg, WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		cfg = applyOption(cfg, WithLogFormat(parseLogFormat(e.LogFormat)))
	}
	if e.ModelDir != "" {
		cfg = applyOption(cfg, WithModelDir(e.ModelDir))
	}

	worker, err := e.Worker.ToWorkerConfig()
	if err != nil {
		return AppConfig{}, err
	}
	cfg = applyOption(cfg, WithWorkerConfig(worker))
	cfg = applyOption(cfg, WithRetryConfig(e.Embedding.ToRetryConfig()))
	cfg = applyOption(cfg, WithEmbeddingTimeout(e.Embedding.Timeout))

	return cfg, nil
}

// ToWorkerConfig converts WorkerEnv to WorkerConfig.
func (w WorkerEnv) ToWorkerConfig() (WorkerConfig, error) {
	cfg := NewWorkerConfig().
		WithConcurrency(w.Concurrency).
		WithListen(w.Listen)
	if w.PollInterval != "" {
		interval, err := ParseInterval(w.PollInterval)
		if err != nil {
			return WorkerConfig{}, fmt.Errorf("WORKER_POLL_INTERVAL: %w", err)
		}
		cfg = cfg.WithPollInterval(interval)
	}
	return cfg, nil
}

// ToRetryConfig converts EmbeddingEnv to RetryConfig.
func (e EmbeddingEnv) ToRetryConfig() RetryConfig {
	cfg := NewRetryConfig().
		WithMaxAttempts(e.MaxAttempts).
		WithMaxRateLimitAttempts(e.MaxRateLimitAttempts)
	if e.InitialDelay > 0 {
		cfg = cfg.WithInitialDelay(e.InitialDelay)
	}
	if e.MaxDelay > 0 {
		cfg = cfg.WithMaxDelay(e.MaxDelay)
	}
	return cfg
}

func applyOption(cfg AppConfig, opt AppConfigOption) AppConfig {
	opt(&cfg)
	return cfg
}

func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}
