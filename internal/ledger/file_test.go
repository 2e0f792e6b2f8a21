package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	started := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, Run{
		RunID:     "run-1",
		Context:   "ctx",
		Project:   "uid://A001/X1/X2",
		Procedure: "cal-imaging",
		Status:    StatusRunning,
		StartedAt: started,
	}))
	require.NoError(t, store.RecordStage(ctx, StageRow{
		RunID: "run-1", Stage: 1, Task: "importdata", Status: StatusCompleted, QAScore: 1,
	}))
	require.NoError(t, store.RecordStage(ctx, StageRow{
		RunID: "run-1", Stage: 2, Task: "bandpass", Status: StatusFailed, Error: "solve diverged",
	}))

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "cal-imaging", runs[0].Procedure)

	stages, err := store.Stages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	require.Equal(t, "importdata", stages[0].Task)
	require.Equal(t, StatusFailed, stages[1].Status)
}

func TestFileStoreUpserts(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	started := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, Run{RunID: "run-1", Status: StatusRunning, StartedAt: started}))

	// re-recording a stage replaces the row, not appends
	require.NoError(t, store.RecordStage(ctx, StageRow{RunID: "run-1", Stage: 1, Task: "gaincal", Status: StatusFailed}))
	require.NoError(t, store.RecordStage(ctx, StageRow{RunID: "run-1", Stage: 1, Task: "gaincal", Status: StatusCompleted}))
	stages, err := store.Stages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.Equal(t, StatusCompleted, stages[0].Status)

	// a terminal status update keeps the original start time
	require.NoError(t, store.RecordRun(ctx, Run{RunID: "run-1", Status: StatusCompleted, EndedAt: started.Add(time.Hour)}))
	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, runs[0].Status)
	require.Equal(t, started, runs[0].StartedAt)
}

func TestFileStoreUnknownRun(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Stages(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreCacheInvalidation(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.RecordStage(ctx, StageRow{RunID: "run-1", Stage: 1, Task: "importdata"}))
	first, err := store.Stages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// cached listing must not mask the new row
	require.NoError(t, store.RecordStage(ctx, StageRow{RunID: "run-1", Stage: 2, Task: "bandpass"}))
	second, err := store.Stages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, second, 2)
}
