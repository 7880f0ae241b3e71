package trainqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestQueue_PushAndGet(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	configs := map[string]any{"language": "en", "pipeline": []any{map[string]any{"name": "DIETClassifier"}}}
	_, err := q.Push(ctx, "req-1", configs, true)
	require.NoError(t, err)

	e, err := q.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, e.Status)
	assert.True(t, e.Testing)
	assert.Equal(t, "en", e.Configs["language"])
	assert.Nil(t, e.FinishedAt)

	_, err = q.Push(ctx, "req-1", nil, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_Transitions(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"done", "broken", "stopped"} {
		_, err := q.Push(ctx, id, nil, false)
		require.NoError(t, err)
	}
	*now = now.Add(90 * time.Second)

	require.NoError(t, q.Complete(ctx, "done", "20240305-080130.tar.gz"))
	require.NoError(t, q.Fail(ctx, "broken", errors.New("backend unreachable")))
	require.NoError(t, q.MarkAborted(ctx, "stopped"))

	done, err := q.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "20240305-080130.tar.gz", done.ModelID)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 90*time.Second, done.Duration(*now))

	broken, err := q.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, broken.Status)
	assert.Equal(t, "backend unreachable", broken.Error)

	stopped, err := q.Get(ctx, "stopped")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, stopped.Status)

	assert.ErrorIs(t, q.Complete(ctx, "stopped", "x.tar.gz"), ErrNotRunning)
	assert.ErrorIs(t, q.MarkAborted(ctx, "missing"), ErrNotFound)
}

func TestQueue_RunningAndLatest(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	_, err := q.LatestRunning(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = q.Push(ctx, "first", nil, false)
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = q.Push(ctx, "second", nil, false)
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = q.Push(ctx, "third", nil, false)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, "third", "m.tar.gz"))

	running, err := q.Running(ctx)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "second", running[0].RequestID)
	assert.Equal(t, "first", running[1].RequestID)

	latest, err := q.LatestRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", latest.RequestID)

	all, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "third", all[0].RequestID)

	limited, err := q.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestQueue_Prune(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, "old", nil, false)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, "old", "m.tar.gz"))
	_, err = q.Push(ctx, "running", nil, false)
	require.NoError(t, err)

	*now = now.Add(48 * time.Hour)
	n, err := q.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, "running")
	assert.NoError(t, err)
}

func TestQueue_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")
	q, err := Open(path)
	require.NoError(t, err)
	_, err = q.Push(context.Background(), "req-1", nil, false)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q, err = Open(path)
	require.NoError(t, err)
	defer q.Close()
	e, err := q.LatestRunning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "req-1", e.RequestID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
