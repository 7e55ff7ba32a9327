// Package bridge lets a blocking caller hand work to a fixed pool of worker
// goroutines and wait for the result with a bounded timeout.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultTimeout bounds a Submit call when the caller passes zero.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout is returned when the task did not finish in time or the
	// caller's context ended first.
	ErrTimeout = errors.New("bridge: task timed out")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("bridge: closed")
)

// Bridge owns the worker pool.
type Bridge struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New starts workers goroutines draining a queue of the given capacity.
func New(workers, queue int, logger *slog.Logger) *Bridge {
	if workers <= 0 {
		workers = 4
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{tasks: make(chan func(), queue), logger: logger}
	b.wg.Add(workers)
	for range workers {
		go b.work()
	}
	return b
}

func (b *Bridge) work() {
	defer b.wg.Done()
	for job := range b.tasks {
		job()
	}
}

// Close stops accepting tasks, lets the workers finish what is queued and
// waits for them. It is safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) enqueue(ctx context.Context, job func()) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.tasks <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// Submit runs fn on a worker and waits at most timeout for its result. The
// context passed to fn is cancelled when Submit gives up, so a cooperative
// task releases its worker promptly. A panic in fn is returned as an error.
func Submit[T any](ctx context.Context, b *Bridge, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	job := func() {
		// The caller may have given up while the task sat in the queue.
		if err := ctx.Err(); err != nil {
			done <- outcome{err: err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("bridge: task panicked", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("bridge: task panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v: v, err: err}
	}

	if err := b.enqueue(ctx, job); err != nil {
		return zero, err
	}
	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
