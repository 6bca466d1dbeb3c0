package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cropsight/platform/pkg/attributes"
	"github.com/cropsight/platform/pkg/cache"
	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/ingestlog"
	"github.com/cropsight/platform/pkg/observability/metrics"
	"github.com/cropsight/platform/pkg/progress"
	"github.com/cropsight/platform/pkg/workflow"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxFeatures = 20000
	DefaultNamespace   = "data-pipeline-progress"

	// AnnounceInterval is the number of inserts between two inserting events.
	AnnounceInterval = 100
)

const (
	stepQueued     = "emitQueuedEvent"
	stepIngest     = "ingestFeatures"
	stepFinalizing = "emitFinalizingEvent"
	stepRefresh    = "refreshDashboards"
	stepCompleted  = "emitCompletedEvent"
)

const unexpectedFailure = "Unexpected workflow error while ingesting dataset."

// Service runs the ingestion workflow: entry validation, the transactional
// feature loop with its audit row, dashboard invalidation and progress
// reporting.
type Service struct {
	store       Store
	engine      *workflow.Engine
	bridge      progress.Bridge
	resolver    *attributes.Resolver
	invalidator cache.Invalidator
	namespace   string
	maxFeatures int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Service)

func WithNamespace(ns string) Option {
	return func(s *Service) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

func WithMaxFeatures(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFeatures = n
		}
	}
}

func WithInvalidator(inv cache.Invalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

func NewService(store Store, engine *workflow.Engine, bridge progress.Bridge, resolver *attributes.Resolver, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:       store,
		engine:      engine,
		bridge:      bridge,
		resolver:    resolver,
		namespace:   DefaultNamespace,
		maxFeatures: DefaultMaxFeatures,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Namespace() string {
	return s.namespace
}

func (s *Service) MaxFeatures() int {
	return s.maxFeatures
}

// Run executes one ingestion synchronously and returns its result.
func (s *Service) Run(ctx context.Context, input Input) (*Result, error) {
	run, err := s.start(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run, input)
}

// Submit records the run, opens its progress stream and executes the
// workflow in the background. The returned id keys both the run and its
// stream.
func (s *Service) Submit(ctx context.Context, input Input) (string, error) {
	run, err := s.start(ctx, input)
	if err != nil {
		return "", err
	}
	s.background(run, input)
	return run.ID, nil
}

// Resume picks up runs that were interrupted before reaching a terminal
// status, continuing after their last completed step.
func (s *Service) Resume(ctx context.Context) (int, error) {
	runs, err := s.engine.Pending(ctx, WorkflowName)
	if err != nil {
		return 0, fmt.Errorf("list pending ingestion runs: %w", err)
	}
	resumed := 0
	for i := range runs {
		run := runs[i]
		var input Input
		if err := json.Unmarshal(run.Input, &input); err != nil {
			logger.WithRun(run.ID).WithError(err).Error("Cannot decode ingestion run input")
			continue
		}
		if err := s.bridge.Open(ctx, s.namespace, run.ID); err != nil {
			logger.WithRun(run.ID).WithError(err).Warn("Failed to reopen progress stream")
		}
		s.background(&run, input)
		resumed++
	}
	return resumed, nil
}

// Shutdown waits for background runs to finish or ctx to expire. Runs still
// going when ctx expires are interrupted and stay resumable.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Service) start(ctx context.Context, input Input) (*workflow.Run, error) {
	run, err := s.engine.Start(ctx, WorkflowName, input)
	if err != nil {
		return nil, fmt.Errorf("start ingestion workflow: %w", err)
	}
	if err := s.bridge.Open(ctx, s.namespace, run.ID); err != nil {
		logger.WithRun(run.ID).WithError(err).Warn("Failed to open progress stream")
	}
	return run, nil
}

func (s *Service) background(run *workflow.Run, input Input) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(s.ctx, run, input); err != nil && s.ctx.Err() == nil {
			logger.WithRun(run.ID).WithError(err).Warn("Ingestion run failed")
		}
	}()
}

func (s *Service) execute(ctx context.Context, run *workflow.Run, input Input) (*Result, error) {
	started := time.Now()
	result := &Result{
		RunID:       run.ID,
		Crops:       []string{},
		DatasetName: input.DatasetName,
		CaptureDate: input.CaptureDate,
	}
	log := logger.WithRun(run.ID).WithField("dataset", input.DatasetName)

	def := workflow.Definition{
		Name: WorkflowName,
		Steps: []workflow.Step{
			{Name: stepQueued, Run: func(ctx context.Context) error {
				s.emit(ctx, log, run.ID, progress.Event{
					Status:        progress.StatusQueued,
					Message:       fmt.Sprintf("Queued ingestion for %s.", input.DatasetName),
					TotalFeatures: progress.Count(input.Features.Len()),
				})
				return nil
			}},
			{Name: stepIngest, Run: func(ctx context.Context) error {
				return s.ingestFeatures(ctx, log, run.ID, input, result)
			}},
			{Name: stepFinalizing, Run: func(ctx context.Context) error {
				s.emit(ctx, log, run.ID, progress.Event{
					Status:        progress.StatusFinalizing,
					Message:       "Refreshing admin dashboards…",
					TotalFeatures: progress.Count(result.Inserted + result.Skipped),
					Inserted:      progress.Count(result.Inserted),
					Skipped:       progress.Count(result.Skipped),
				})
				return nil
			}},
			{Name: stepRefresh, Run: func(ctx context.Context) error {
				s.refreshDashboards(ctx, log)
				return nil
			}},
			{Name: stepCompleted, Run: func(ctx context.Context) error {
				s.emit(ctx, log, run.ID, progress.Event{
					Status:        progress.StatusCompleted,
					Message:       fmt.Sprintf("Ingested %d %s.", result.Inserted, plural(result.Inserted, "feature")),
					TotalFeatures: progress.Count(result.Inserted + result.Skipped),
					Inserted:      progress.Count(result.Inserted),
					Skipped:       progress.Count(result.Skipped),
				})
				s.closeStream(ctx, log, run.ID)
				return nil
			}},
		},
		OnFailure: func(ctx context.Context, err error) {
			message := err.Error()
			if message == "" {
				message = unexpectedFailure
			}
			s.emit(ctx, log, run.ID, progress.Event{Status: progress.StatusError, Message: message})
			s.closeStream(ctx, log, run.ID)
		},
	}

	err := s.engine.Execute(ctx, run, def, result)
	if err != nil {
		if ctx.Err() == nil {
			metrics.IngestionRuns.WithLabelValues(string(progress.StatusError)).Inc()
			metrics.IngestionDuration.Observe(time.Since(started).Seconds())
		}
		return nil, err
	}

	metrics.IngestionRuns.WithLabelValues(string(progress.StatusCompleted)).Inc()
	metrics.IngestionDuration.Observe(time.Since(started).Seconds())
	log.WithFields(logrus.Fields{
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
		"log_id":   result.LogID,
	}).Info("Ingestion run completed")
	return result, nil
}

func (s *Service) ingestFeatures(ctx context.Context, log *logrus.Entry, runID string, input Input, result *Result) error {
	captureDate, err := ParseCaptureDate(input.CaptureDate)
	if err != nil {
		return workflow.Fatal(errors.New("Invalid capture date provided to the workflow."))
	}
	total := input.Features.Len()
	if total == 0 {
		return workflow.Fatal(errors.New("No features were provided to the workflow."))
	}
	if total > s.maxFeatures {
		return workflow.Fatalf("Dataset exceeds the configured %d feature limit.", s.maxFeatures)
	}

	s.emit(ctx, log, runID, progress.Event{
		Status:        progress.StatusValidating,
		Message:       fmt.Sprintf("Validated %d %s.", total, plural(total, "feature")),
		TotalFeatures: progress.Count(total),
	})

	var inserted, skipped int
	var logID int64
	var crops []string
	err = s.store.WithinTransaction(ctx, func(tx Tx) error {
		inserted, skipped = 0, 0
		seen := map[string]struct{}{}
		crops = crops[:0]
		lastAnnounced := 0

		for _, feature := range input.Features.Features {
			resolved := s.resolver.ResolveAttributes(feature.Properties)
			dn, ok := s.resolver.Identifier(feature.Properties, resolved)
			geometry, hasGeometry, err := feature.GeoJSON()
			if err != nil {
				return fmt.Errorf("encode feature geometry: %w", err)
			}
			if !ok || !hasGeometry {
				skipped++
				continue
			}

			row := newCropGeometry(dn, resolved, captureDate)
			if err := tx.InsertGeometry(ctx, row, geometry, feature.SourceSRID()); err != nil {
				return fmt.Errorf("insert crop geometry: %w", err)
			}
			inserted++
			if _, dup := seen[dn]; !dup {
				seen[dn] = struct{}{}
				crops = append(crops, dn)
			}

			if shouldAnnounce(inserted, lastAnnounced) {
				lastAnnounced = inserted
				s.emit(ctx, log, runID, progress.Event{
					Status:        progress.StatusInserting,
					Message:       fmt.Sprintf("Inserted %d of %d features…", inserted, total),
					TotalFeatures: progress.Count(total),
					Inserted:      progress.Count(inserted),
					Skipped:       progress.Count(skipped),
				})
			}
		}

		if inserted == 0 {
			return workflow.Fatal(errors.New("No features contained a crop identifier (dn)."))
		}

		rec := &ingestlog.Record{
			UserID:           input.User.ID,
			UserEmail:        optional(input.User.Email),
			UserName:         optional(input.User.Name),
			FileName:         optional(input.DatasetName),
			CaptureDate:      captureDate,
			TotalFeatures:    total,
			InsertedFeatures: inserted,
			SkippedFeatures:  skipped,
			Crops:            append([]string(nil), crops...),
		}
		id, err := tx.AppendLog(ctx, rec)
		if err != nil {
			return fmt.Errorf("append ingestion log: %w", err)
		}
		logID = id

		s.emit(ctx, log, runID, progress.Event{
			Status:        progress.StatusInserting,
			Message:       fmt.Sprintf("Finished inserts for %s.", input.DatasetName),
			TotalFeatures: progress.Count(total),
			Inserted:      progress.Count(inserted),
			Skipped:       progress.Count(skipped),
		})
		return nil
	})
	if err != nil {
		return err
	}

	metrics.IngestionFeatures.WithLabelValues("inserted").Add(float64(inserted))
	metrics.IngestionFeatures.WithLabelValues("skipped").Add(float64(skipped))

	result.Inserted = inserted
	result.Skipped = skipped
	result.Crops = append([]string(nil), crops...)
	sort.Strings(result.Crops)
	result.LogID = logID
	return nil
}

func (s *Service) refreshDashboards(ctx context.Context, log *logrus.Entry) {
	if s.invalidator == nil {
		return
	}
	if err := cache.InvalidateAll(ctx, s.invalidator, cache.DashboardPaths...); err != nil {
		log.WithError(err).Warn("Dashboard refresh incomplete")
	}
}

// emit is best-effort: a failed write is counted and logged, never returned.
func (s *Service) emit(ctx context.Context, log *logrus.Entry, runID string, event progress.Event) {
	if err := s.bridge.Writer(s.namespace, runID).Write(ctx, event); err != nil {
		metrics.ProgressEmitFailures.Inc()
		log.WithError(err).WithField("status", event.Status).Debug("Dropped progress event")
	}
}

func (s *Service) closeStream(ctx context.Context, log *logrus.Entry, runID string) {
	if err := s.bridge.Writer(s.namespace, runID).Close(ctx); err != nil {
		metrics.ProgressEmitFailures.Inc()
		log.WithError(err).Debug("Failed to close progress stream")
	}
}

// shouldAnnounce reports whether inserted has advanced a full interval past
// the last announced count.
func shouldAnnounce(inserted, lastAnnounced int) bool {
	if inserted == 0 || inserted == lastAnnounced {
		return false
	}
	return inserted-lastAnnounced >= AnnounceInterval
}

func newCropGeometry(dn string, resolved attributes.Resolved, captureDate time.Time) *CropGeometry {
	return &CropGeometry{
		DN:          dn,
		Class:       integral(resolved.Class),
		FID1:        integral(resolved.FID1),
		PHCodeBgy:   resolved.PHCodeBgy,
		PHCodeReg:   resolved.PHCodeReg,
		RegName:     resolved.RegName,
		PHCodePro:   resolved.PHCodePro,
		ProName:     resolved.ProName,
		PHCodeMun:   resolved.PHCodeMun,
		MunName:     resolved.MunName,
		BgyName:     resolved.BgyName,
		AreaSqm:     resolved.AreaSqm,
		CropName:    resolved.CropName,
		CaptureDate: captureDate,
	}
}

// integral narrows v for the integer columns; fractional or out of range
// values are dropped.
func integral(v *float64) *int {
	if v == nil {
		return nil
	}
	f := *v
	if f != float64(int64(f)) || f > 2147483647 || f < -2147483648 {
		return nil
	}
	n := int(f)
	return &n
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// OpenStream attaches a reader to the progress stream of runID.
func (s *Service) OpenStream(ctx context.Context, runID string) (progress.Reader, error) {
	return s.bridge.Reader(ctx, s.namespace, runID)
}
