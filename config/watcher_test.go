package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zkernel.yaml", "socket:\n  send_hwm: 10\n")

	w, err := NewWatcher(path, NewLoader(),
		WithWatcherLogger(zaptest.NewLogger(t)),
		WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 10, w.GetConfig().Socket.SendHWM)

	var (
		mu      sync.Mutex
		changes [][2]int
	)
	w.OnConfigChange(func(oldConfig, newConfig *Config) {
		mu.Lock()
		changes = append(changes, [2]int{oldConfig.Socket.SendHWM, newConfig.Socket.SendHWM})
		mu.Unlock()
	})

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("socket:\n  send_hwm: 20\n"), 0o644))

	require.Eventually(t, func() bool {
		return w.GetConfig().Socket.SendHWM == 20
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
	assert.Equal(t, [2]int{10, 20}, changes[0])
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zkernel.yaml", "kernel:\n  io_threads: 3\n")

	w, err := NewWatcher(path, NewLoader())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("kernel: [broken"), 0o644))
	assert.ErrorIs(t, w.Reload(), ErrConfigParseError)
	assert.Equal(t, 3, w.GetConfig().Kernel.IOThreads)
}

func TestWatcherCallbackPanicRecovered(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zkernel.yaml", "kernel:\n  io_threads: 3\n")

	w, err := NewWatcher(path, NewLoader(), WithWatcherLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	called := false
	w.OnConfigChange(func(*Config, *Config) { panic("boom") })
	w.OnConfigChange(func(*Config, *Config) { called = true })

	require.NoError(t, w.Reload())
	assert.True(t, called, "later callbacks still run")
}

func TestNewWatcherErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWatcher(filepath.Join(dir, "zkernel.ini"), NewLoader())
	assert.ErrorIs(t, err, ErrFormatNotSupported)

	_, err = NewWatcher(filepath.Join(dir, "missing.yaml"), NewLoader())
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}
