package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/observability/metrics"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Step is one durable unit of a workflow. A step may run more than once if
// it fails with a retryable error or the process restarts before its
// checkpoint is written.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Definition is the ordered step list of a workflow plus the handler that
// runs once when a step fails for good.
type Definition struct {
	Name      string
	Steps     []Step
	OnFailure func(ctx context.Context, err error)
}

type Engine struct {
	store       Checkpoints
	maxAttempts int
	newBackOff  func() backoff.BackOff
	retention   time.Duration
}

type Option func(*Engine)

func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newBackOff = fn
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		e.retention = d
	}
}

func NewEngine(store Checkpoints, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		maxAttempts: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		retention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start records a new run with its input. Nothing is executed yet.
func (e *Engine) Start(ctx context.Context, workflow string, input interface{}) (*Run, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode workflow input: %w", err)
	}
	run := &Run{
		ID:       uuid.NewString(),
		Workflow: workflow,
		Status:   StatusRunning,
		Input:    datatypes.JSON(raw),
	}
	if err := e.store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}
	return run, nil
}

// Execute drives run through def, skipping steps a previous attempt already
// completed. state must be a pointer; it is restored from the last
// checkpoint before the first pending step and persisted after each step.
//
// If ctx is cancelled the run is left running so it can be resumed.
func (e *Engine) Execute(ctx context.Context, run *Run, def Definition, state interface{}) error {
	log := logger.WithRun(run.ID).WithField("workflow", def.Name)

	if run.CompletedSteps > 0 && len(run.State) > 0 && state != nil {
		if err := json.Unmarshal(run.State, state); err != nil {
			return e.fail(ctx, run, def, fmt.Errorf("restore workflow state: %w", err))
		}
		log.WithField("stage", run.Stage).Info("Resuming workflow run")
	}

	for i, step := range def.Steps {
		if i < run.CompletedSteps {
			continue
		}
		if err := e.runStep(ctx, run, def.Name, step); err != nil {
			if ctx.Err() != nil {
				log.WithError(err).WithField("step", step.Name).Warn("Workflow run interrupted")
				return err
			}
			log.WithError(err).WithField("step", step.Name).Error("Workflow step failed")
			return e.fail(ctx, run, def, err)
		}

		raw, err := json.Marshal(state)
		if err != nil {
			return e.fail(ctx, run, def, fmt.Errorf("encode workflow state: %w", err))
		}
		if err := e.store.Checkpoint(ctx, run.ID, step.Name, i+1, raw); err != nil {
			log.WithError(err).WithField("step", step.Name).Warn("Failed to persist workflow checkpoint")
		}
		run.Stage = step.Name
		run.CompletedSteps = i + 1
		run.State = datatypes.JSON(raw)
	}

	if err := e.store.UpdateStatus(ctx, run.ID, StatusCompleted, ""); err != nil {
		log.WithError(err).Warn("Failed to mark workflow run completed")
	}
	run.Status = StatusCompleted
	return nil
}

func (e *Engine) runStep(ctx context.Context, run *Run, workflow string, step Step) error {
	attempts := e.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(attempts-1)), ctx)

	operation := func() error {
		err := step.Run(ctx)
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.WorkflowStepRetries.WithLabelValues(workflow, step.Name).Inc()
		logger.WithRun(run.ID).WithError(err).WithFields(map[string]interface{}{
			"step": step.Name,
			"wait": wait.String(),
		}).Warn("Retrying workflow step")
		if err := e.store.IncrementRetry(ctx, run.ID); err != nil {
			logger.WithRun(run.ID).WithError(err).Debug("Failed to record workflow retry")
		}
	}
	return backoff.RetryNotify(operation, policy, notify)
}

func (e *Engine) fail(ctx context.Context, run *Run, def Definition, err error) error {
	if def.OnFailure != nil {
		def.OnFailure(ctx, err)
	}
	if uerr := e.store.UpdateStatus(ctx, run.ID, StatusFailed, err.Error()); uerr != nil {
		logger.WithRun(run.ID).WithError(uerr).Warn("Failed to mark workflow run failed")
	}
	run.Status = StatusFailed
	run.Error = err.Error()
	return err
}

// Pending lists runs of workflow that have not reached a terminal status.
func (e *Engine) Pending(ctx context.Context, workflow string) ([]Run, error) {
	return e.store.ListByStatus(ctx, workflow, StatusRunning)
}

// Cleanup drops finished runs past the retention window.
func (e *Engine) Cleanup(ctx context.Context) error {
	return e.store.CleanupExpired(ctx, e.retention)
}
