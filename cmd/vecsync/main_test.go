package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/internal/config"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "vecsync version dev")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, arg := range []string{"0", "-1", "abc", ""} {
		_, err := parseID(arg)
		assert.Error(t, err, arg)
	}
}

func TestApplyServeOverrides(t *testing.T) {
	cfg := applyServeOverrides(config.NewAppConfig(), "127.0.0.1", 9090)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())

	unchanged := applyServeOverrides(config.NewAppConfig(), "", 0)
	assert.Equal(t, config.NewAppConfig().Addr(), unchanged.Addr())
}

func TestApplyWorkerOverrides(t *testing.T) {
	var flags workerFlags
	cmd := &cobra.Command{Use: "worker"}
	addWorkerFlags(cmd, &flags)

	require.NoError(t, cmd.ParseFlags([]string{
		"--poll-interval", "30", "--concurrency", "4", "--listen", "--vectorizer-id", "3",
	}))

	cfg, err := applyWorkerOverrides(cmd, config.NewAppConfig(), flags)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Worker().PollInterval())
	assert.Equal(t, 4, cfg.Worker().Concurrency())
	assert.True(t, cfg.Worker().Listen())
	assert.Equal(t, []int64{3}, flags.ids)
}

func TestApplyWorkerOverrides_InvalidInterval(t *testing.T) {
	cmd := workerCmd()
	_, err := applyWorkerOverrides(cmd, config.NewAppConfig(), workerFlags{pollInterval: "soon"})
	assert.Error(t, err)
}
