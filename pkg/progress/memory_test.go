package progress

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testNamespace = "data-pipeline-progress"

func collect(t *testing.T, r Reader) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var events []Event
	for {
		event, err := r.Next(ctx)
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, event)
	}
}

func TestMemoryBridgeDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(time.Minute)
	defer b.Stop()

	require.NoError(t, b.Open(ctx, testNamespace, "run-1"))
	reader, err := b.Reader(ctx, testNamespace, "run-1")
	require.NoError(t, err)
	defer reader.Close()

	w := b.Writer(testNamespace, "run-1")
	statuses := []Status{StatusQueued, StatusValidating, StatusInserting, StatusInserting, StatusFinalizing, StatusCompleted}
	for i, status := range statuses {
		require.NoError(t, w.Write(ctx, Event{Status: status, Inserted: Count(i)}))
	}
	require.NoError(t, w.Close(ctx))

	events := collect(t, reader)
	require.Len(t, events, len(statuses))
	for i, event := range events {
		require.Equal(t, statuses[i], event.Status)
		require.Equal(t, i, *event.Inserted)
	}
}

func TestMemoryBridgeLateReaderSeesOnlyNewEvents(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(time.Minute)
	defer b.Stop()

	w := b.Writer(testNamespace, "run-2")
	require.NoError(t, w.Write(ctx, Event{Status: StatusQueued}))

	reader, err := b.Reader(ctx, testNamespace, "run-2")
	require.NoError(t, err)

	require.NoError(t, w.Write(ctx, Event{Status: StatusValidating}))
	require.NoError(t, w.Write(ctx, Event{Status: StatusError, Message: "boom"}))
	require.NoError(t, w.Close(ctx))

	events := collect(t, reader)
	require.Len(t, events, 2)
	require.Equal(t, StatusValidating, events[0].Status)
	require.Equal(t, StatusError, events[1].Status)
}

func TestMemoryBridgeUnknownAndClosedRuns(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(time.Minute)
	defer b.Stop()

	_, err := b.Reader(ctx, testNamespace, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	w := b.Writer(testNamespace, "run-3")
	require.NoError(t, w.Write(ctx, Event{Status: StatusCompleted}))
	require.NoError(t, w.Close(ctx))
	require.ErrorIs(t, w.Close(ctx), ErrClosed)
	require.ErrorIs(t, w.Write(ctx, Event{Status: StatusCompleted}), ErrClosed)

	reader, err := b.Reader(ctx, testNamespace, "run-3")
	require.NoError(t, err)
	require.Empty(t, collect(t, reader))
}

func TestMemoryBridgeReaderHonoursContext(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(time.Minute)
	defer b.Stop()

	require.NoError(t, b.Open(ctx, testNamespace, "run-4"))
	reader, err := b.Reader(ctx, testNamespace, "run-4")
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = reader.Next(cctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A reader that went away must not block the writer.
	require.NoError(t, reader.Close())
	w := b.Writer(testNamespace, "run-4")
	require.NoError(t, w.Write(ctx, Event{Status: StatusQueued}))
	require.NoError(t, w.Close(ctx))
}

func TestRunsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(time.Minute)
	defer b.Stop()

	require.NoError(t, b.Open(ctx, testNamespace, "a"))
	require.NoError(t, b.Open(ctx, testNamespace, "b"))
	ra, err := b.Reader(ctx, testNamespace, "a")
	require.NoError(t, err)
	rb, err := b.Reader(ctx, testNamespace, "b")
	require.NoError(t, err)

	wa, wb := b.Writer(testNamespace, "a"), b.Writer(testNamespace, "b")
	require.NoError(t, wa.Write(ctx, Event{Status: StatusQueued, Message: "a"}))
	require.NoError(t, wb.Write(ctx, Event{Status: StatusQueued, Message: "b"}))
	require.NoError(t, wa.Close(ctx))
	require.NoError(t, wb.Close(ctx))

	evA, evB := collect(t, ra), collect(t, rb)
	require.Len(t, evA, 1)
	require.Len(t, evB, 1)
	require.Equal(t, "a", evA[0].Message)
	require.Equal(t, "b", evB[0].Message)
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusError.Terminal())
	require.False(t, StatusInserting.Terminal())
}

func TestMemoryBridgeAttachedReaderOutlivesTTL(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(50 * time.Millisecond)
	defer b.Stop()

	require.NoError(t, b.Open(ctx, testNamespace, "slow"))
	reader, err := b.Reader(ctx, testNamespace, "slow")
	require.NoError(t, err)
	defer reader.Close()

	w := b.Writer(testNamespace, "slow")
	require.NoError(t, w.Write(ctx, Event{Status: StatusQueued}))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, w.Write(ctx, Event{Status: StatusCompleted}))
	require.NoError(t, w.Close(ctx))

	events := collect(t, reader)
	require.Len(t, events, 2)
	require.Equal(t, StatusCompleted, events[1].Status)
}

func TestMemoryBridgeExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBridge(80 * time.Millisecond)
	defer b.Stop()

	w := b.Writer(testNamespace, "busy")
	for i := 0; i < 6; i++ {
		require.NoError(t, w.Write(ctx, Event{Status: StatusInserting}))
		time.Sleep(30 * time.Millisecond)
	}
	reader, err := b.Reader(ctx, testNamespace, "busy")
	require.NoError(t, err, "writes keep the run alive")
	require.NoError(t, reader.Close())

	require.NoError(t, b.Open(ctx, testNamespace, "idle"))
	time.Sleep(200 * time.Millisecond)
	_, err = b.Reader(ctx, testNamespace, "idle")
	require.ErrorIs(t, err, ErrRunNotFound)
}
