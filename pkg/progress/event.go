package progress

import (
	"context"
	"errors"
)

// Status is the stage a run reports.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusValidating Status = "validating"
	StatusInserting  Status = "inserting"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status ends a run's stream.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Event is one progress update for a run. Counters are omitted when they do
// not apply to the stage.
type Event struct {
	Status        Status `json:"status"`
	Message       string `json:"message"`
	TotalFeatures *int   `json:"totalFeatures,omitempty"`
	Inserted      *int   `json:"inserted,omitempty"`
	Skipped       *int   `json:"skipped,omitempty"`
}

// Count is a helper for the optional counters.
func Count(n int) *int {
	return &n
}

var (
	ErrRunNotFound = errors.New("progress: run not found")
	ErrClosed      = errors.New("progress: stream closed")
)

// Writer pushes events for one run. Close must be called exactly once,
// after the terminal event.
type Writer interface {
	Write(ctx context.Context, event Event) error
	Close(ctx context.Context) error
}

// Reader yields the events written after it attached, in order. Next
// returns io.EOF once the run's stream is closed.
type Reader interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Bridge connects the single writer of a run to its readers. Runs are keyed
// by namespace and run id.
type Bridge interface {
	Open(ctx context.Context, namespace, runID string) error
	Writer(namespace, runID string) Writer
	Reader(ctx context.Context, namespace, runID string) (Reader, error)
}

func Key(namespace, runID string) string {
	return namespace + ":" + runID
}
