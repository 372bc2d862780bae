package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/config"
)

const watcherTestConfig = `database:
  driver: sqlite
  dsn: ":memory:"
`

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulp-manager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherTestConfig), 0o644))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, func(ctx context.Context, cfg *config.Config) error {
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		reloads.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)
	cw.debounceTime = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cw.Start(ctx))
	defer cw.Stop()

	require.NoError(t, os.WriteFile(path, []byte(watcherTestConfig), 0o644))

	assert.Eventually(t, func() bool { return reloads.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulp-manager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherTestConfig), 0o644))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, func(ctx context.Context, cfg *config.Config) error {
		reloads.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)
	cw.debounceTime = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cw.Start(ctx))
	defer cw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
