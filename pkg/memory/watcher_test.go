package memory

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectWatcherDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	var fired atomic.Int32

	pw, err := NewProjectWatcher(root, 100*time.Millisecond, zerolog.New(io.Discard), func() {
		fired.Add(1)
	})
	require.NoError(t, err)
	defer pw.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644))
	}

	assert.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestProjectWatcherStop(t *testing.T) {
	pw, err := NewProjectWatcher(t.TempDir(), 0, zerolog.New(io.Discard), func() {})
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, pw.debounce)

	require.NoError(t, pw.Stop())
	require.NoError(t, pw.Stop())
}

func TestProjectWatcherMissingRoot(t *testing.T) {
	_, err := NewProjectWatcher(filepath.Join(t.TempDir(), "missing"), 0, zerolog.New(io.Discard), func() {})
	assert.Error(t, err)
}
