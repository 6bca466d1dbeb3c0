package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Visited []string `json:"visited"`
}

func quickEngine(store Checkpoints, attempts int) *Engine {
	return NewEngine(store,
		WithMaxAttempts(attempts),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)
}

func recordingSteps(state *counterState, names ...string) []Step {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		name := name
		steps = append(steps, Step{Name: name, Run: func(context.Context) error {
			state.Visited = append(state.Visited, name)
			return nil
		}})
	}
	return steps
}

func TestExecuteRunsStepsInOrderAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpoints()
	engine := quickEngine(store, 1)

	run, err := engine.Start(ctx, "demo", map[string]string{"dataset": "fields.geojson"})
	require.NoError(t, err)

	state := &counterState{}
	def := Definition{Name: "demo", Steps: recordingSteps(state, "a", "b", "c")}
	require.NoError(t, engine.Execute(ctx, run, def, state))
	require.Equal(t, []string{"a", "b", "c"}, state.Visited)

	stored, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Equal(t, "c", stored.Stage)
	require.Equal(t, 3, stored.CompletedSteps)
	require.JSONEq(t, `{"visited":["a","b","c"]}`, string(stored.State))
	require.JSONEq(t, `{"dataset":"fields.geojson"}`, string(stored.Input))
}

func TestExecuteResumesAfterLastCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpoints()
	engine := quickEngine(store, 1)

	run, err := engine.Start(ctx, "demo", nil)
	require.NoError(t, err)
	require.NoError(t, store.Checkpoint(ctx, run.ID, "a", 1, []byte(`{"visited":["a"]}`)))

	pending, err := engine.Pending(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	state := &counterState{}
	def := Definition{Name: "demo", Steps: recordingSteps(state, "a", "b")}
	require.NoError(t, engine.Execute(ctx, &pending[0], def, state))
	require.Equal(t, []string{"a", "b"}, state.Visited)

	pending, err = engine.Pending(ctx, "demo")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpoints()
	engine := quickEngine(store, 3)
	run, err := engine.Start(ctx, "demo", nil)
	require.NoError(t, err)

	calls := 0
	def := Definition{Name: "demo", Steps: []Step{{Name: "flaky", Run: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}}}}
	require.NoError(t, engine.Execute(ctx, run, def, &counterState{}))
	require.Equal(t, 3, calls)

	stored, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.RetryCount)
}

func TestExecuteDoesNotRetryFatalErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpoints()
	engine := quickEngine(store, 5)
	run, err := engine.Start(ctx, "demo", nil)
	require.NoError(t, err)

	calls := 0
	var failure error
	state := &counterState{}
	def := Definition{
		Name: "demo",
		Steps: append([]Step{{Name: "validate", Run: func(context.Context) error {
			calls++
			return Fatalf("bad capture date")
		}}}, recordingSteps(state, "never")...),
		OnFailure: func(_ context.Context, err error) { failure = err },
	}

	err = engine.Execute(ctx, run, def, state)
	require.EqualError(t, err, "bad capture date")
	require.True(t, IsFatal(err))
	require.Equal(t, 1, calls)
	require.Empty(t, state.Visited)
	require.EqualError(t, failure, "bad capture date")

	stored, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Equal(t, "bad capture date", stored.Error)
}

func TestExecuteLeavesInterruptedRunsPending(t *testing.T) {
	store := NewMemoryCheckpoints()
	engine := quickEngine(store, 1)
	run, err := engine.Start(context.Background(), "demo", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	called := false
	def := Definition{
		Name: "demo",
		Steps: []Step{{Name: "slow", Run: func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		}}},
		OnFailure: func(context.Context, error) { called = true },
	}
	require.Error(t, engine.Execute(ctx, run, def, &counterState{}))
	require.False(t, called)

	stored, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, stored.Status)
}

func TestCleanupKeepsRunningRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpoints()
	engine := NewEngine(store, WithRetention(time.Nanosecond))

	running, err := engine.Start(ctx, "demo", nil)
	require.NoError(t, err)
	done, err := engine.Start(ctx, "demo", nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, done.ID, StatusCompleted, ""))

	time.Sleep(time.Millisecond)
	require.NoError(t, engine.Cleanup(ctx))

	_, err = store.Get(ctx, running.ID)
	require.NoError(t, err)
	_, err = store.Get(ctx, done.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
