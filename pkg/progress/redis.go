package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateOpen   = "open"
	stateClosed = "closed"

	fieldEvent = "event"
	fieldEOF   = "eof"
)

// RedisBridge carries progress over Redis Streams so the reader and the
// workflow may live in different processes. A state key records whether a
// run exists and whether its stream has been closed. Both keys expire after
// ttl without writes or a waiting reader.
type RedisBridge struct {
	client    redis.UniversalClient
	ttl       time.Duration
	maxLen    int64
	blockWait time.Duration
}

func NewRedisBridge(client redis.UniversalClient, ttl time.Duration) *RedisBridge {
	if ttl <= 0 {
		ttl = time.Hour
	}
	blockWait := 5 * time.Second
	if blockWait > ttl/2 {
		blockWait = ttl / 2
	}
	return &RedisBridge{client: client, ttl: ttl, maxLen: 10000, blockWait: blockWait}
}

func streamKey(namespace, runID string) string {
	return "progress:" + Key(namespace, runID)
}

func stateKey(namespace, runID string) string {
	return streamKey(namespace, runID) + ":state"
}

func (b *RedisBridge) Open(ctx context.Context, namespace, runID string) error {
	if err := b.client.SetNX(ctx, stateKey(namespace, runID), stateOpen, b.ttl).Err(); err != nil {
		return fmt.Errorf("open progress run: %w", err)
	}
	return nil
}

func (b *RedisBridge) Writer(namespace, runID string) Writer {
	return &redisWriter{bridge: b, stream: streamKey(namespace, runID), state: stateKey(namespace, runID)}
}

func (b *RedisBridge) Reader(ctx context.Context, namespace, runID string) (Reader, error) {
	stream, state := streamKey(namespace, runID), stateKey(namespace, runID)

	current, err := b.client.Get(ctx, state).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup progress run: %w", err)
	}
	if current == stateClosed {
		return &redisReader{done: true}, nil
	}

	// Attach after the newest entry so only later events are delivered.
	lastID := "0-0"
	entries, err := b.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("position progress reader: %w", err)
	}
	if len(entries) > 0 {
		lastID = entries[0].ID
	}
	return &redisReader{bridge: b, stream: stream, state: state, lastID: lastID}, nil
}

type redisWriter struct {
	bridge *RedisBridge
	stream string
	state  string
}

func (w *redisWriter) Write(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	return w.append(ctx, map[string]interface{}{fieldEvent: payload})
}

func (w *redisWriter) Close(ctx context.Context) error {
	if err := w.append(ctx, map[string]interface{}{fieldEOF: "1"}); err != nil {
		return err
	}
	if err := w.bridge.client.Set(ctx, w.state, stateClosed, w.bridge.ttl).Err(); err != nil {
		return fmt.Errorf("close progress run: %w", err)
	}
	return nil
}

func (w *redisWriter) append(ctx context.Context, values map[string]interface{}) error {
	pipe := w.bridge.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: w.stream,
		MaxLen: w.bridge.maxLen,
		Approx: true,
		Values: values,
	})
	pipe.Expire(ctx, w.stream, w.bridge.ttl)
	pipe.SetNX(ctx, w.state, stateOpen, w.bridge.ttl)
	pipe.Expire(ctx, w.state, w.bridge.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append progress event: %w", err)
	}
	return nil
}

type redisReader struct {
	bridge  *RedisBridge
	stream  string
	state   string
	lastID  string
	pending []redis.XMessage
	done    bool
}

func (r *redisReader) Next(ctx context.Context) (Event, error) {
	for {
		for len(r.pending) > 0 {
			msg := r.pending[0]
			r.pending = r.pending[1:]
			r.lastID = msg.ID

			if _, eof := msg.Values[fieldEOF]; eof {
				r.done = true
				r.pending = nil
				return Event{}, io.EOF
			}
			raw, ok := msg.Values[fieldEvent].(string)
			if !ok {
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				continue
			}
			return event, nil
		}
		if r.done {
			return Event{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		streams, err := r.bridge.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, r.lastID},
			Count:   100,
			Block:   r.bridge.blockWait,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			closed, cerr := r.closed(ctx)
			if cerr != nil {
				return Event{}, fmt.Errorf("check progress run: %w", cerr)
			}
			if closed {
				rest, derr := r.drain(ctx)
				if derr != nil {
					return Event{}, fmt.Errorf("read progress events: %w", derr)
				}
				r.pending = append(r.pending, rest...)
				r.done = true
			}
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, ctxErr
			}
			return Event{}, fmt.Errorf("read progress events: %w", err)
		}
		for _, s := range streams {
			r.pending = append(r.pending, s.Messages...)
		}
	}
}

// closed reports whether the writer has closed the run, or the run state
// has expired. Polling extends the run's expiry so a quiet run stays
// readable while someone waits on it.
func (r *redisReader) closed(ctx context.Context) (bool, error) {
	pipe := r.bridge.client.TxPipeline()
	get := pipe.Get(ctx, r.state)
	pipe.Expire(ctx, r.state, r.bridge.ttl)
	pipe.Expire(ctx, r.stream, r.bridge.ttl)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}

	state, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return state == stateClosed, nil
}

// drain collects entries appended after lastID without blocking. The writer
// appends its close marker before flipping the state key, so anything it
// wrote is visible here.
func (r *redisReader) drain(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := r.bridge.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, r.lastID},
		Count:   1000,
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *redisReader) Close() error {
	r.pending = nil
	r.done = true
	return nil
}
