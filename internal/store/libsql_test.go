package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/planrun/pkg/plan"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRun(t *testing.T, s *LibSQLStore) *Run {
	t.Helper()
	run := &Run{
		ID:        uuid.New().String(),
		PlanName:  "train",
		Status:    plan.RunStatusActive,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	run := seedRun(t, s)

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "train", got.PlanName)
	assert.Equal(t, plan.RunStatusActive, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "ghost")
	require.Error(t, err)

	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, plan.ErrCodeNotFound, perr.Code)
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	run := seedRun(t, s)

	now := time.Now().UTC().Truncate(time.Second)
	errJSON, _ := json.Marshal(plan.NewError(plan.ErrCodeNetworkRun, "boom"))
	require.NoError(t, s.FinishRun(context.Background(), run.ID, RunUpdate{
		Status:      plan.RunStatusFailed,
		Error:       errJSON,
		CompletedAt: &now,
	}))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.RunStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestAppendEventSequencesPerRun(t *testing.T) {
	s := newTestStore(t)
	runA := seedRun(t, s)
	runB := seedRun(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: runA.ID, Type: plan.EventStepStarted}))
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: runB.ID, Type: plan.EventRunStarted}))

	aEvents, err := s.GetEvents(ctx, runA.ID, 0)
	require.NoError(t, err)
	require.Len(t, aEvents, 3)
	for i, e := range aEvents {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	bEvents, err := s.GetEvents(ctx, runB.ID, 0)
	require.NoError(t, err)
	require.Len(t, bEvents, 1)
	assert.Equal(t, int64(1), bEvents[0].Sequence)
}

func TestGetEventsSince(t *testing.T) {
	s := newTestStore(t)
	run := seedRun(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{
			RunID: run.ID,
			Step:  "loop",
			Type:  plan.EventStepCompleted,
		}))
	}

	events, err := s.GetEvents(ctx, run.ID, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].Sequence)
	assert.Equal(t, "loop", events[0].Step)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRun(t, s)
	seedRun(t, s)
	other := &Run{ID: uuid.New().String(), PlanName: "eval", StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateRun(ctx, other))

	trainRuns, err := s.ListRuns(ctx, "train")
	require.NoError(t, err)
	assert.Len(t, trainRuns, 2)

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}
