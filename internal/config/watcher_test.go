package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "insights:\n  patience: 10\n", 0o600)

	w, err := NewWatcher(path)
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	errs := make(chan error, 4)
	w.OnChange = func(c *Config) { changed <- c }
	w.OnError = func(err error) { errs <- err }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("insights:\n  patience: 18\n"), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, 18, cfg.Insights.Patience)
	case err := <-errs:
		t.Fatalf("unexpected reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	require.NoError(t, os.WriteFile(path, []byte("insights:\n  patience: 99\n"), 0o600))
	select {
	case err := <-errs:
		assert.Error(t, err)
	case cfg := <-changed:
		t.Fatalf("invalid config applied: %+v", cfg.Insights)
	case <-time.After(5 * time.Second):
		t.Fatal("reload error not observed")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "insights:\n  patience: 10\n", 0o600)

	w, err := NewWatcher(path)
	require.NoError(t, err)
	changed := make(chan *Config, 1)
	w.OnChange = func(c *Config) { changed <- c }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue.db"), []byte("x"), 0o600))

	select {
	case <-changed:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestNewWatcher_RejectsOutsidePath(t *testing.T) {
	setupTestHome(t)
	_, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"))
	assert.Error(t, err)
}
