package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	executor "github.com/vearne/frameexecutor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framepool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Positive(t, cfg.Concurrency)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
concurrency: 3
task_queue_cap: 16
queue_order: lifo
reply_timeout: 2s
detect_interval: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Concurrency)
	require.Equal(t, 16, cfg.TaskQueueCap)
	require.Equal(t, 2*time.Second, cfg.ReplyTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.DetectInterval)
	require.Equal(t, 4, cfg.PixelStride)

	order, err := cfg.Order()
	require.NoError(t, err)
	require.Equal(t, executor.LIFO, order)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "concurrency: 3\n")
	t.Setenv("FRAMEPOOL_CONCURRENCY", "7")
	t.Setenv("FRAMEPOOL_REPLY_TIMEOUT", "1500ms")
	t.Setenv("FRAMEPOOL_QUEUE_ORDER", "LIFO")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Concurrency)
	require.Equal(t, 1500*time.Millisecond, cfg.ReplyTimeout)
	require.Equal(t, "LIFO", cfg.QueueOrder)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "concurrency: [oops"))
	require.ErrorContains(t, err, "unmarshal")

	_, err = Load(writeConfig(t, "concurrency: 0\n"))
	require.ErrorContains(t, err, "concurrency")

	_, err = Load(writeConfig(t, "queue_order: random\n"))
	require.ErrorContains(t, err, "queue_order")

	t.Setenv("FRAMEPOOL_TASK_QUEUE_CAP", "many")
	_, err = Load("")
	require.ErrorContains(t, err, "FRAMEPOOL_TASK_QUEUE_CAP")
}

func TestConfig_OptionsBuildAPool(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 2
	cfg.TaskQueueCap = 8
	require.NoError(t, cfg.Validate())

	factory := func() (executor.Kernel, error) { return nil, nil }
	pool, err := executor.NewFramePool(context.Background(), factory,
		executor.NewSnapshotBootstrap(1, 1, []byte{0}), cfg.Options()...)
	require.NoError(t, err)
	defer pool.WaitTerminate()

	require.Equal(t, 2, pool.Concurrency())
	require.Equal(t, 8, pool.TaskQueueCap())
}
