// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 8080
	DefaultLogLevel             = "INFO"
	DefaultDBURL                = "sqlite:///vecsync.db"
	DefaultModelDir             = "models"
	DefaultPollInterval         = 5 * time.Minute
	DefaultMaxAttempts          = 6
	DefaultMaxRateLimitAttempts = 20
	DefaultInitialDelay         = time.Second
	DefaultMaxDelay             = 60 * time.Second
	DefaultBackoffFactor        = 2.0
	DefaultEmbeddingTimeout     = 60 * time.Second
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// RetryConfig configures how embedding calls are retried.
type RetryConfig struct {
	maxAttempts          int
	maxRateLimitAttempts int
	initialDelay         time.Duration
	maxDelay             time.Duration
	backoffFactor        float64
}

// NewRetryConfig creates a RetryConfig with defaults.
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		maxAttempts:          DefaultMaxAttempts,
		maxRateLimitAttempts: DefaultMaxRateLimitAttempts,
		initialDelay:         DefaultInitialDelay,
		maxDelay:             DefaultMaxDelay,
		backoffFactor:        DefaultBackoffFactor,
	}
}

// MaxAttempts returns the attempt budget for transient failures.
func (r RetryConfig) MaxAttempts() int { return r.maxAttempts }

// MaxRateLimitAttempts returns the attempt budget for rate-limited calls.
func (r RetryConfig) MaxRateLimitAttempts() int { return r.maxRateLimitAttempts }

// InitialDelay returns the first backoff delay.
func (r RetryConfig) InitialDelay() time.Duration { return r.initialDelay }

// MaxDelay returns the backoff ceiling.
func (r RetryConfig) MaxDelay() time.Duration { return r.maxDelay }

// BackoffFactor returns the backoff multiplier.
func (r RetryConfig) BackoffFactor() float64 { return r.backoffFactor }

// WithMaxAttempts returns a new config with the transient attempt budget set.
func (r RetryConfig) WithMaxAttempts(n int) RetryConfig {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// WithMaxRateLimitAttempts returns a new config with the rate-limit budget set.
func (r RetryConfig) WithMaxRateLimitAttempts(n int) RetryConfig {
	if n > 0 {
		r.maxRateLimitAttempts = n
	}
	return r
}

// WithInitialDelay returns a new config with the first backoff delay set.
func (r RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	r.initialDelay = d
	return r
}

// WithMaxDelay returns a new config with the backoff ceiling set.
func (r RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	r.maxDelay = d
	return r
}

// WithBackoffFactor returns a new config with the backoff multiplier set.
func (r RetryConfig) WithBackoffFactor(f float64) RetryConfig {
	if f >= 1 {
		r.backoffFactor = f
	}
	return r
}

// WorkerConfig configures the worker process.
type WorkerConfig struct {
	pollInterval time.Duration
	concurrency  int
	listen       bool
}

// NewWorkerConfig creates a WorkerConfig with defaults.
func NewWorkerConfig() WorkerConfig {
	return WorkerConfig{pollInterval: DefaultPollInterval}
}

// PollInterval returns the time between worker passes.
func (w WorkerConfig) PollInterval() time.Duration { return w.pollInterval }

// Concurrency returns the execution path override. Zero means use the
// value stored with each vectorizer.
func (w WorkerConfig) Concurrency() int { return w.concurrency }

// Listen reports whether the worker should wake on database notifications.
func (w WorkerConfig) Listen() bool { return w.listen }

// WithPollInterval returns a new config with the poll interval set.
func (w WorkerConfig) WithPollInterval(d time.Duration) WorkerConfig {
	if d > 0 {
		w.pollInterval = d
	}
	return w
}

// WithConcurrency returns a new config with the concurrency override set.
func (w WorkerConfig) WithConcurrency(n int) WorkerConfig {
	if n >= 0 {
		w.concurrency = n
	}
	return w
}

// WithListen returns a new config with notification wake-ups toggled.
func (w WorkerConfig) WithListen(listen bool) WorkerConfig {
	w.listen = listen
	return w
}

// AppConfig holds the main application configuration.
type AppConfig struct {
	host             string
	port             int
	dbURL            string
	logLevel         string
	logFormat        LogFormat
	modelDir         string
	embeddingTimeout time.Duration
	retry            RetryConfig
	worker           WorkerConfig
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		host:             DefaultHost,
		port:             DefaultPort,
		dbURL:            DefaultDBURL,
		logLevel:         DefaultLogLevel,
		logFormat:        LogFormatPretty,
		modelDir:         DefaultModelDir,
		embeddingTimeout: DefaultEmbeddingTimeout,
		retry:            NewRetryConfig(),
		worker:           NewWorkerConfig(),
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port to listen on.
func (c AppConfig) Port() int { return c.port }

// Addr returns the combined host:port address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// DBURL returns the database connection URL.
func (c AppConfig) DBURL() string { return c.dbURL }

// LogLevel returns the log verbosity level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log output format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// ModelDir returns the directory holding local embedding models.
func (c AppConfig) ModelDir() string { return c.modelDir }

// EmbeddingTimeout returns the HTTP timeout for provider calls.
func (c AppConfig) EmbeddingTimeout() time.Duration { return c.embeddingTimeout }

// Retry returns the embedding retry policy.
func (c AppConfig) Retry() RetryConfig { return c.retry }

// Worker returns the worker configuration.
func (c AppConfig) Worker() WorkerConfig { return c.worker }

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHost sets the server host.
func WithHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) AppConfigOption {
	return func(c *AppConfig) { c.port = port }
}

// WithDBURL sets the database URL.
func WithDBURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.dbURL = url }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithModelDir sets the local model directory.
func WithModelDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.modelDir = dir }
}

// WithEmbeddingTimeout sets the provider HTTP timeout.
func WithEmbeddingTimeout(d time.Duration) AppConfigOption {
	return func(c *AppConfig) {
		if d > 0 {
			c.embeddingTimeout = d
		}
	}
}

// WithRetryConfig sets the embedding retry policy.
func WithRetryConfig(r RetryConfig) AppConfigOption {
	return func(c *AppConfig) { c.retry = r }
}

// WithWorkerConfig sets the worker configuration.
func WithWorkerConfig(w WorkerConfig) AppConfigOption {
	return func(c *AppConfig) { c.worker = w }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a new AppConfig with the given options applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes for logging the configuration.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("db_url", c.maskedDBURL()),
		slog.String("log_level", c.logLevel),
		slog.Duration("poll_interval", c.worker.pollInterval),
		slog.Int("concurrency_override", c.worker.concurrency),
		slog.Int("max_attempts", c.retry.maxAttempts),
		slog.Int("max_rate_limit_attempts", c.retry.maxRateLimitAttempts),
	}
}

func (c AppConfig) maskedDBURL() string {
	if strings.HasPrefix(c.dbURL, "sqlite:") {
		return c.dbURL
	}
	return "postgres://***@***"
}

// ParseInterval parses a poll interval given either as a Go duration
// ("90s", "5m") or as a plain number of seconds ("300").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("interval must be positive: %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %s", d)
	}
	return d, nil
}
