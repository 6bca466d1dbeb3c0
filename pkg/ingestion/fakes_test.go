package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cropsight/platform/pkg/attributes"
	"github.com/cropsight/platform/pkg/geodata"
	"github.com/cropsight/platform/pkg/ingestlog"
	"github.com/cropsight/platform/pkg/progress"
	"github.com/cropsight/platform/pkg/workflow"
	"github.com/stretchr/testify/require"
)

// memStore stages writes per transaction and publishes them on commit.
type memStore struct {
	mu         sync.Mutex
	rows       []CropGeometry
	geometries []string
	srids      []int
	logs       []ingestlog.Record
	failInsert error
}

type memTx struct {
	store      *memStore
	rows       []CropGeometry
	geometries []string
	srids      []int
	logs       []ingestlog.Record
}

func (s *memStore) WithinTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, tx.rows...)
	s.geometries = append(s.geometries, tx.geometries...)
	s.srids = append(s.srids, tx.srids...)
	s.logs = append(s.logs, tx.logs...)
	return nil
}

func (t *memTx) InsertGeometry(_ context.Context, row *CropGeometry, geometry []byte, srid int) error {
	if t.store.failInsert != nil {
		return t.store.failInsert
	}
	t.rows = append(t.rows, *row)
	t.geometries = append(t.geometries, string(geometry))
	t.srids = append(t.srids, srid)
	return nil
}

func (t *memTx) AppendLog(_ context.Context, rec *ingestlog.Record) (int64, error) {
	t.store.mu.Lock()
	rec.ID = int64(len(t.store.logs) + len(t.logs) + 1)
	t.store.mu.Unlock()
	t.logs = append(t.logs, *rec)
	return rec.ID, nil
}

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), len(s.logs)
}

// recordingBridge keeps every event written for every run.
type recordingBridge struct {
	mu      sync.Mutex
	events  map[string][]progress.Event
	closes  map[string]int
	failing bool
}

func newRecordingBridge() *recordingBridge {
	return &recordingBridge{events: map[string][]progress.Event{}, closes: map[string]int{}}
}

func (b *recordingBridge) Open(context.Context, string, string) error { return nil }

func (b *recordingBridge) Writer(namespace, runID string) progress.Writer {
	return &recordingWriter{bridge: b, runID: runID}
}

func (b *recordingBridge) Reader(context.Context, string, string) (progress.Reader, error) {
	return nil, progress.ErrRunNotFound
}

func (b *recordingBridge) statuses(runID string) []progress.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]progress.Status, 0, len(b.events[runID]))
	for _, e := range b.events[runID] {
		out = append(out, e.Status)
	}
	return out
}

func (b *recordingBridge) runEvents(runID string) []progress.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]progress.Event(nil), b.events[runID]...)
}

type recordingWriter struct {
	bridge *recordingBridge
	runID  string
}

func (w *recordingWriter) Write(_ context.Context, event progress.Event) error {
	w.bridge.mu.Lock()
	defer w.bridge.mu.Unlock()
	if w.bridge.failing {
		return errors.New("stream unavailable")
	}
	w.bridge.events[w.runID] = append(w.bridge.events[w.runID], event)
	return nil
}

func (w *recordingWriter) Close(context.Context) error {
	w.bridge.mu.Lock()
	defer w.bridge.mu.Unlock()
	w.bridge.closes[w.runID]++
	if w.bridge.failing {
		return errors.New("stream unavailable")
	}
	return nil
}

type testEnv struct {
	service     *Service
	store       *memStore
	bridge      progress.Bridge
	checkpoints *workflow.MemoryCheckpoints
	engine      *workflow.Engine
}

func newTestEnv(t *testing.T, bridge progress.Bridge, opts ...Option) *testEnv {
	t.Helper()
	store := &memStore{}
	checkpoints := workflow.NewMemoryCheckpoints()
	engine := workflow.NewEngine(checkpoints, workflow.WithMaxAttempts(1))
	if bridge == nil {
		mem := progress.NewMemoryBridge(time.Minute)
		t.Cleanup(mem.Stop)
		bridge = mem
	}
	service := NewService(store, engine, bridge, attributes.NewResolver(attributes.DefaultKeyTable()), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
	})
	return &testEnv{service: service, store: store, bridge: bridge, checkpoints: checkpoints, engine: engine}
}

const polygonJSON = `{"type":"Feature","properties":%s,"geometry":{"type":"Polygon","coordinates":[[[120.1,15.1],[120.2,15.1],[120.2,15.2],[120.1,15.1]]]}}`

func featureJSON(props string) string {
	return strings.Replace(polygonJSON, "%s", props, 1)
}

func collectionJSON(features ...string) string {
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

func repeatFeatures(n int, props string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = featureJSON(props)
	}
	return out
}

func mustCollection(t *testing.T, features ...string) *geodata.FeatureCollection {
	t.Helper()
	fc, err := geodata.NewNormalizer(0).Normalize([]byte(collectionJSON(features...)), "fields.geojson")
	require.NoError(t, err)
	return fc
}
