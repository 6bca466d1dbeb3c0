package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCheckpoints keeps checkpoints in process. Runs do not survive a
// restart; used by tests and the offline CLI.
type MemoryCheckpoints struct {
	mu   sync.Mutex
	runs map[string]Run
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{runs: map[string]Run{}}
}

func (m *MemoryCheckpoints) Create(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryCheckpoints) Checkpoint(_ context.Context, id, stage string, completed int, state []byte) error {
	return m.update(id, func(run *Run) {
		run.Stage = stage
		run.CompletedSteps = completed
		run.State = append([]byte(nil), state...)
	})
}

func (m *MemoryCheckpoints) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	return m.update(id, func(run *Run) {
		now := time.Now().UTC()
		run.Status = status
		run.Error = errMsg
		run.LastAttempt = &now
	})
}

func (m *MemoryCheckpoints) IncrementRetry(_ context.Context, id string) error {
	return m.update(id, func(run *Run) {
		now := time.Now().UTC()
		run.RetryCount++
		run.LastAttempt = &now
	})
}

func (m *MemoryCheckpoints) Get(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (m *MemoryCheckpoints) ListByStatus(_ context.Context, workflow, status string) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, run := range m.runs {
		if run.Workflow == workflow && run.Status == status {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryCheckpoints) CleanupExpired(_ context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, run := range m.runs {
		if run.Status != StatusRunning && run.CreatedAt.Before(cutoff) {
			delete(m.runs, id)
		}
	}
	return nil
}

func (m *MemoryCheckpoints) update(id string, fn func(*Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&run)
	run.UpdatedAt = time.Now().UTC()
	m.runs[id] = run
	return nil
}
