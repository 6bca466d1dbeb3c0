package progress

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryBridge keeps runs in process. Each reader owns an unbounded queue so
// a slow reader never blocks the writer. A run expires after ttl without
// writes or new readers, but never while a reader is attached to it.
type MemoryBridge struct {
	mu     sync.Mutex
	runs   *ttlcache.Cache[string, *memoryRun]
	pinned map[string]*memoryRun
}

func NewMemoryBridge(ttl time.Duration) *MemoryBridge {
	if ttl <= 0 {
		ttl = time.Hour
	}
	runs := ttlcache.New(
		ttlcache.WithTTL[string, *memoryRun](ttl),
	)
	go runs.Start()
	return &MemoryBridge{runs: runs, pinned: map[string]*memoryRun{}}
}

// Stop halts the expiry loop.
func (b *MemoryBridge) Stop() {
	b.runs.Stop()
}

func (b *MemoryBridge) Open(_ context.Context, namespace, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolve(Key(namespace, runID), true)
	return nil
}

func (b *MemoryBridge) Writer(namespace, runID string) Writer {
	return &memoryWriter{bridge: b, key: Key(namespace, runID)}
}

func (b *MemoryBridge) Reader(_ context.Context, namespace, runID string) (Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run := b.resolve(Key(namespace, runID), false)
	if run == nil {
		return nil, ErrRunNotFound
	}
	reader := run.attach()
	if !reader.done {
		b.pinned[run.key] = run
	}
	return reader, nil
}

// resolve returns the live run for key, refreshing its expiry. A pinned run
// that expired from the cache is put back rather than replaced. Callers hold
// b.mu.
func (b *MemoryBridge) resolve(key string, create bool) *memoryRun {
	if item := b.runs.Get(key); item != nil {
		return item.Value()
	}
	if run, ok := b.pinned[key]; ok {
		b.runs.Set(key, run, ttlcache.DefaultTTL)
		return run
	}
	if !create {
		return nil
	}
	run := newMemoryRun(b, key)
	b.runs.Set(key, run, ttlcache.DefaultTTL)
	return run
}

// release unpins run once it has no readers left or has closed.
func (b *MemoryBridge) release(run *memoryRun) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !run.idle() {
		return
	}
	if b.pinned[run.key] == run {
		delete(b.pinned, run.key)
	}
}

type memoryRun struct {
	bridge  *MemoryBridge
	key     string
	mu      sync.Mutex
	closed  bool
	readers map[*memoryReader]struct{}
}

func newMemoryRun(bridge *MemoryBridge, key string) *memoryRun {
	return &memoryRun{bridge: bridge, key: key, readers: map[*memoryReader]struct{}{}}
}

func (r *memoryRun) attach() *memoryReader {
	reader := &memoryReader{run: r, signal: make(chan struct{}, 1)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		reader.done = true
		return reader
	}
	r.readers[reader] = struct{}{}
	return reader
}

func (r *memoryRun) detach(reader *memoryReader) {
	r.mu.Lock()
	delete(r.readers, reader)
	r.mu.Unlock()
	r.bridge.release(r)
}

func (r *memoryRun) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || len(r.readers) == 0
}

func (r *memoryRun) publish(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for reader := range r.readers {
		reader.push(event)
	}
	return nil
}

func (r *memoryRun) close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	for reader := range r.readers {
		reader.finish()
	}
	r.readers = nil
	r.mu.Unlock()
	r.bridge.release(r)
	return nil
}

type memoryWriter struct {
	bridge *MemoryBridge
	key    string
}

func (w *memoryWriter) lookup() *memoryRun {
	w.bridge.mu.Lock()
	defer w.bridge.mu.Unlock()
	return w.bridge.resolve(w.key, true)
}

func (w *memoryWriter) Write(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.lookup().publish(event)
}

func (w *memoryWriter) Close(context.Context) error {
	return w.lookup().close()
}

type memoryReader struct {
	run    *memoryRun
	mu     sync.Mutex
	queue  []Event
	done   bool
	signal chan struct{}
}

func (r *memoryReader) push(event Event) {
	r.mu.Lock()
	r.queue = append(r.queue, event)
	r.mu.Unlock()
	r.notify()
}

func (r *memoryReader) finish() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
	r.notify()
}

func (r *memoryReader) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *memoryReader) Next(ctx context.Context) (Event, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			event := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return event, nil
		}
		done := r.done
		r.mu.Unlock()
		if done {
			return Event{}, io.EOF
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-r.signal:
		}
	}
}

func (r *memoryReader) Close() error {
	r.run.detach(r)
	return nil
}
