package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultWriterCapacity = 256
	defaultWriteAttempts  = 3
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs database writes one at a time off the event path.
type WriterQueue struct {
	logger   *slog.Logger
	queue    chan writeCmd
	attempts uint64
	interval time.Duration
	pending  sync.WaitGroup
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WriterQueue{
		logger:   logger,
		queue:    make(chan writeCmd, capacity),
		attempts: defaultWriteAttempts,
		interval: 300 * time.Millisecond,
	}
}

func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	w.pending.Add(1)
	select {
	case w.queue <- cmd:
	default:
		go func() { w.queue <- cmd }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
				w.pending.Done()
			}
		}
	}()
}

// Flush blocks until every enqueued write finished or ctx is done.
func (w *WriterQueue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.interval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	attempt := 0
	op := func() error {
		attempt++
		err := cmd.fn(ctx)
		if err != nil {
			w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, w.attempts-1), ctx)
	_ = backoff.Retry(op, policy)
}
