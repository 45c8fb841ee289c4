package batcher

import (
	"sync"
	"time"
)

// FlushFunc receives a detached batch. The batch is owned by the callee.
type FlushFunc[T any] func([]T) error

// Batcher collects items and flushes them based on size or time thresholds.
//
// Items added before Start are buffered and delivered by the first flush
// after a callback is registered.
type Batcher[T any] struct {
	mu        sync.Mutex
	buffer    []T
	maxSize   int
	interval  time.Duration
	flushFn   FlushFunc[T]
	stop      chan struct{}
	wg        sync.WaitGroup
	lastError error
}

// New creates a batcher. Call Start to register the flush callback and begin
// the interval ticker.
func New[T any](maxSize int, interval time.Duration) *Batcher[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
	}
}

// Start registers flushFn and starts the interval ticker. Calling Start again
// replaces both the callback and the ticker.
func (b *Batcher[T]) Start(flushFn FlushFunc[T]) {
	stop := make(chan struct{})
	b.mu.Lock()
	prev := b.stop
	b.stop = stop
	b.flushFn = flushFn
	b.mu.Unlock()
	if prev != nil {
		close(prev)
	}
	if b.interval <= 0 {
		return
	}
	b.wg.Add(1)
	go b.loop(stop)
}

// Add queues an item for batching. If the size threshold is met it flushes immediately.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	b.buffer = append(b.buffer, item)
	var batch []T
	fn := b.flushFn
	if fn != nil && len(b.buffer) >= b.maxSize {
		batch = b.detach()
	}
	b.mu.Unlock()
	return runFlush(fn, batch)
}

// Flush forces a flush of the accumulated items. It is a no-op when the
// buffer is empty or no callback is registered.
func (b *Batcher[T]) Flush() error {
	b.mu.Lock()
	fn := b.flushFn
	var batch []T
	if fn != nil {
		batch = b.detach()
	}
	b.mu.Unlock()
	return runFlush(fn, batch)
}

// Stop cancels the ticker and flushes remaining items.
func (b *Batcher[T]) Stop() error {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	b.wg.Wait()
	return b.Flush()
}

// Len reports the number of buffered items.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// LastError returns the last flush error encountered by the background ticker.
func (b *Batcher[T]) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

func (b *Batcher[T]) loop(stop <-chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.mu.Lock()
				b.lastError = err
				b.mu.Unlock()
			}
		case <-stop:
			return
		}
	}
}

func (b *Batcher[T]) detach() []T {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := b.buffer
	b.buffer = nil
	return batch
}

func runFlush[T any](fn FlushFunc[T], batch []T) error {
	if len(batch) == 0 || fn == nil {
		return nil
	}
	return fn(batch)
}
