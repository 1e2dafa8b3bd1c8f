package cli

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcgold-correlation/internal/config"
	"btcgold-correlation/internal/pipeline"
	"btcgold-correlation/internal/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		appHandle = nil
		cfgFile = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitRoundTrips(t *testing.T) {
	t.Setenv(config.EnvPrefix+"_CRYPTO_API_KEY", "secret-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-from-env")
	assert.Contains(t, string(raw), "scheduler:")
	assert.Contains(t, string(raw), "retry_delay: 5m0s")
	assert.Contains(t, string(raw), "request_timeout: 15s")
	assert.NotContains(t, string(raw), "retry_delay: 300000000000")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.RetryDelay)
	assert.Equal(t, config.DriverCSV, cfg.Storage.Driver)
	assert.Equal(t, "0 10 * * *", cfg.Scheduler.Cron)

	_, err = execute(t, "config", "init", "--out", path)
	require.Error(t, err, "existing file needs --force")
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "version: dev")
}

func TestTaskCommandsRegistered(t *testing.T) {
	for _, task := range pipeline.Tasks {
		cmd, _, err := rootCmd.Find([]string{string(task)})
		require.NoError(t, err)
		assert.Equal(t, string(task), cmd.Name())
	}
}

func TestPrintReport(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printReport(&buf, pipeline.RunReport{
		RunID:    "01HX",
		State:    pipeline.StateDone,
		Result:   &storage.CorrelationResult{Value: math.NaN(), SampleSize: 1},
		Started:  started,
		Finished: started.Add(2 * time.Second),
	})
	assert.Contains(t, buf.String(), "run 01HX DONE in 2s")
	assert.Contains(t, buf.String(), "correlation NaN over 1 samples")

	buf.Reset()
	printReport(&buf, pipeline.RunReport{RunID: "01HY", State: pipeline.StateFailed, Stage: pipeline.StateStoring, Err: errors.New("x")})
	assert.Contains(t, buf.String(), "failed in STORING")

	buf.Reset()
	printReport(&buf, pipeline.RunReport{})
	assert.Empty(t, buf.String())
}
