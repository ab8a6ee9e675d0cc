package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"HOST", "PORT", "DB_URL", "LOG_LEVEL", "LOG_FORMAT", "MODEL_DIR",
	"WORKER_POLL_INTERVAL", "WORKER_CONCURRENCY", "WORKER_LISTEN",
	"EMBEDDING_MAX_ATTEMPTS", "EMBEDDING_MAX_RATE_LIMIT_ATTEMPTS",
	"EMBEDDING_INITIAL_DELAY", "EMBEDDING_MAX_DELAY", "EMBEDDING_TIMEOUT",
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "", cfg.DBURL)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.Equal(t, "5m", cfg.Worker.PollInterval)
	assert.Equal(t, 0, cfg.Worker.Concurrency)
	assert.Equal(t, DefaultMaxAttempts, cfg.Embedding.MaxAttempts)
	assert.Equal(t, DefaultMaxRateLimitAttempts, cfg.Embedding.MaxRateLimitAttempts)
	assert.Equal(t, DefaultInitialDelay, cfg.Embedding.InitialDelay)
	assert.Equal(t, DefaultMaxDelay, cfg.Embedding.MaxDelay)
	assert.Equal(t, DefaultEmbeddingTimeout, cfg.Embedding.Timeout)
}

func TestEnvConfig_ToAppConfig(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DB_URL", "postgres://u:p@localhost:5432/db")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("WORKER_POLL_INTERVAL", "30")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("EMBEDDING_MAX_ATTEMPTS", "3")

	env, err := LoadFromEnv()
	require.NoError(t, err)

	cfg, err := env.ToAppConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@localhost:5432/db", cfg.DBURL())
	assert.Equal(t, LogFormatJSON, cfg.LogFormat())
	assert.Equal(t, 30*time.Second, cfg.Worker().PollInterval())
	assert.Equal(t, 4, cfg.Worker().Concurrency())
	assert.Equal(t, 3, cfg.Retry().MaxAttempts())
	assert.Equal(t, DefaultMaxRateLimitAttempts, cfg.Retry().MaxRateLimitAttempts())
}

func TestEnvConfig_ToAppConfig_BadInterval(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("WORKER_POLL_INTERVAL", "soon")

	env, err := LoadFromEnv()
	require.NoError(t, err)

	_, err = env.ToAppConfig()
	assert.ErrorContains(t, err, "WORKER_POLL_INTERVAL")
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "300", want: 300 * time.Second},
		{in: "5m", want: 5 * time.Minute},
		{in: " 90s ", want: 90 * time.Second},
		{in: "0", wantErr: true},
		{in: "-1m", wantErr: true},
		{in: "", wantErr: true},
		{in: "later", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	clearEnvVars(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_URL=sqlite:///from-dotenv.db\nLOG_LEVEL=DEBUG\n"), 0o644))
	t.Cleanup(func() {
		_ = os.Unsetenv("DB_URL")
		_ = os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///from-dotenv.db", cfg.DBURL())
	assert.Equal(t, "DEBUG", cfg.LogLevel())
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestRetryConfig_IgnoresInvalidValues(t *testing.T) {
	cfg := NewRetryConfig().WithMaxAttempts(0).WithBackoffFactor(0.5)

	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts())
	assert.Equal(t, DefaultBackoffFactor, cfg.BackoffFactor())
}
