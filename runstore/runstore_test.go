package runstore

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock advances one second per call so ordering by start time is deterministic.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupTestStore(t *testing.T) *Store {
	clock := &steppingClock{now: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	store, err := Open(":memory:", clock, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndFinishRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 17, 30, 0, 0, time.UTC), "manual")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, StateRunning, run.State)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), run.LogicalDate)

	require.NoError(t, store.FinishRun(ctx, run.ID, StateSuccess, ""))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, got.State)
	assert.Equal(t, "manual", got.Trigger)
	assert.Equal(t, run.LogicalDate, got.LogicalDate)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.After(got.StartedAt))
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = store.FinishRun(ctx, "missing", StateFailed, "boom")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsAndLatestRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for day := 1; day <= 3; day++ {
		run, err := store.CreateRun(ctx, time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC), "scheduled")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestTaskInstances(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "manual")
	require.NoError(t, err)

	require.NoError(t, store.StartTask(ctx, run.ID, "extract_stock_data", 1))
	require.NoError(t, store.FinishTask(ctx, run.ID, "extract_stock_data", 1, StateFailed, "rate limited"))
	require.NoError(t, store.StartTask(ctx, run.ID, "extract_stock_data", 2))
	require.NoError(t, store.FinishTask(ctx, run.ID, "extract_stock_data", 2, StateSuccess, ""))

	// the same attempt cannot start twice
	assert.Error(t, store.StartTask(ctx, run.ID, "extract_stock_data", 2))

	tasks, err := store.TaskInstances(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].Try)
	assert.Equal(t, StateFailed, tasks[0].State)
	assert.Equal(t, "rate limited", tasks[0].Error)
	assert.Equal(t, 2, tasks[1].Try)
	assert.Equal(t, StateSuccess, tasks[1].State)
	assert.NotNil(t, tasks[1].FinishedAt)
}

func TestNextTry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "manual")
	require.NoError(t, err)

	next, err := store.NextTry(ctx, run.ID, "upload_to_object_store")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	require.NoError(t, store.StartTask(ctx, run.ID, "upload_to_object_store", 1))
	require.NoError(t, store.StartTask(ctx, run.ID, "upload_to_object_store", 2))

	next, err = store.NextTry(ctx, run.ID, "upload_to_object_store")
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	// numbering is per task and per run
	next, err = store.NextTry(ctx, run.ID, "load_to_warehouse")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	other, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "manual")
	require.NoError(t, err)
	next, err = store.NextTry(ctx, other.ID, "upload_to_object_store")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestHandoff(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "manual")
	require.NoError(t, err)

	_, err = store.PullHandoff(ctx, run.ID, "extract_stock_data", ReturnValueKey)
	assert.ErrorIs(t, err, ErrHandoffNotFound)

	require.NoError(t, store.PushHandoff(ctx, run.ID, "extract_stock_data", ReturnValueKey, "stock_data_20260101.csv"))
	require.NoError(t, store.PushHandoff(ctx, run.ID, "extract_stock_data", ReturnValueKey, "stock_data_20260102.csv"))

	value, err := store.PullHandoff(ctx, run.ID, "extract_stock_data", ReturnValueKey)
	require.NoError(t, err)
	assert.Equal(t, "stock_data_20260102.csv", value)

	// handoffs are scoped to their run
	other, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "manual")
	require.NoError(t, err)
	_, err = store.PullHandoff(ctx, other.ID, "extract_stock_data", ReturnValueKey)
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestOpen_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	clock := &steppingClock{now: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	store, err := Open(path, clock, logger)
	require.NoError(t, err)
	run, err := store.CreateRun(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "manual")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, clock, logger)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}
