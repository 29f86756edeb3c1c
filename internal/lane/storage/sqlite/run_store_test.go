package sqlite

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Running again is a no-op.
	require.NoError(t, MigrateUp(db))
}

func TestOpen_ReopenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanes.db")
	db, err := Open(path)
	require.NoError(t, err)
	store := NewRunStore(db)
	run := &Run{SessionID: "s1"}
	require.NoError(t, store.CreateRun(run))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewRunStore(db).GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
}

func TestRunStore_CreateGetComplete(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	run := &Run{
		SessionID:  "session-a",
		Source:     "testdata/masks",
		ParamsJSON: json.RawMessage(`{"window_count":10}`),
	}
	require.NoError(t, store.CreateRun(run))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.StartedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.JSONEq(t, `{"window_count":10}`, string(got.ParamsJSON))
	assert.Zero(t, got.CompletedAt)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertFrame(&FrameRecord{
			RunID:       run.RunID,
			FrameIndex:  i,
			LeftStatus:  "tracking",
			RightStatus: "tracking",
			Frozen:      i == 2,
		}))
	}
	require.NoError(t, store.CompleteRun(run.RunID))

	got, err = store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.FrameCount)
	assert.Equal(t, 1, got.FrozenCount)
	assert.NotZero(t, got.CompletedAt)
}

func TestRunStore_NotFound(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	_, err := store.GetRun("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.True(t, errors.Is(store.CompleteRun("missing"), ErrRunNotFound))
	assert.True(t, errors.Is(store.DeleteRun("missing"), ErrRunNotFound))
}

func TestRunStore_FrameRoundTrip(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := &Run{SessionID: "s"}
	require.NoError(t, store.CreateRun(run))

	in := []FrameRecord{
		{
			RunID: run.RunID, FrameIndex: 0, Source: "0000.png",
			LeftStatus: "tracking", RightStatus: "tracking",
			LeftDetected: true, RightDetected: true,
			LeftRadiusM: 850, RightRadiusM: math.Inf(1), SmoothedRadiusM: 1200,
			OffsetM: -0.12, OffsetDirection: "left",
			LeftFit: [3]float64{2e-4, -0.3, 310}, RightFit: [3]float64{0, 0.01, 990},
		},
		{
			RunID: run.RunID, FrameIndex: 1, Source: "0001.png",
			LeftStatus: "stale", RightStatus: "uninitialized",
			LeftRadiusM: 900, RightRadiusM: math.NaN(), SmoothedRadiusM: math.NaN(),
			OffsetM: 0, OffsetDirection: "left", Frozen: true,
		},
	}
	// Insert out of order; ListFrames sorts by frame index.
	require.NoError(t, store.InsertFrame(&in[1]))
	require.NoError(t, store.InsertFrame(&in[0]))

	out, err := store.ListFrames(run.RunID)
	require.NoError(t, err)
	require.Len(t, out, 2)

	a := out[0]
	assert.Equal(t, 0, a.FrameIndex)
	assert.Equal(t, "0000.png", a.Source)
	assert.True(t, a.LeftDetected)
	assert.InDelta(t, 850, a.LeftRadiusM, 1e-9)
	assert.True(t, math.IsInf(a.RightRadiusM, 1), "straight stored as zero curvature")
	assert.InDelta(t, 1200, a.SmoothedRadiusM, 1e-9)
	assert.Equal(t, -0.12, a.OffsetM)
	assert.Equal(t, in[0].LeftFit, a.LeftFit)
	assert.Equal(t, in[0].RightFit, a.RightFit)
	assert.False(t, a.Frozen)

	b := out[1]
	assert.Equal(t, "stale", b.LeftStatus)
	assert.True(t, math.IsNaN(b.RightRadiusM))
	assert.True(t, math.IsNaN(b.SmoothedRadiusM))
	assert.True(t, b.Frozen)
	assert.Equal(t, [3]float64{}, b.RightFit)

	// Duplicate frame index is rejected.
	assert.Error(t, store.InsertFrame(&FrameRecord{RunID: run.RunID, FrameIndex: 0, LeftStatus: "x", RightStatus: "x"}))
	assert.Error(t, store.InsertFrame(&FrameRecord{FrameIndex: 5}))
}

func TestRunStore_ListAndDelete(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	first := &Run{SessionID: "a", StartedAt: 100}
	second := &Run{SessionID: "b", StartedAt: 200}
	require.NoError(t, store.CreateRun(first))
	require.NoError(t, store.CreateRun(second))
	require.NoError(t, store.InsertFrame(&FrameRecord{RunID: first.RunID, LeftStatus: "tracking", RightStatus: "tracking"}))

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, store.DeleteRun(first.RunID))
	frames, err := store.ListFrames(first.RunID)
	require.NoError(t, err)
	assert.Empty(t, frames, "frames cascade with their run")
}

func TestCurvatureEncoding(t *testing.T) {
	assert.Nil(t, curvatureOf(math.NaN()))
	assert.Nil(t, curvatureOf(0))
	assert.Equal(t, 0.0, curvatureOf(math.Inf(1)))
	assert.Equal(t, 0.5, curvatureOf(2))
}
