package sdk

import (
	"time"

	"tiny-errors/pkg/batcher"
	"tiny-errors/pkg/report"
)

const (
	// DefaultBatchSize triggers an immediate flush once reached.
	DefaultBatchSize = 10
	// DefaultFlushInterval is the period of the background flush.
	DefaultFlushInterval = 5 * time.Second
)

// Queue buffers outgoing reports and hands them to a single consumer in
// batches, on size or on a timer.
type Queue struct {
	b *batcher.Batcher[report.ErrorReport]
}

// NewQueue returns a queue flushing at size reports or every interval.
func NewQueue(size int, interval time.Duration) *Queue {
	return &Queue{b: batcher.New[report.ErrorReport](size, interval)}
}

// Start registers onFlush and starts the timer. A later Start replaces it.
func (q *Queue) Start(onFlush func([]report.ErrorReport)) {
	q.b.Start(func(reports []report.ErrorReport) error {
		onFlush(reports)
		return nil
	})
}

// Add buffers r, flushing when the batch size is reached.
func (q *Queue) Add(r report.ErrorReport) {
	_ = q.b.Add(r)
}

// Flush hands the buffered reports to the consumer.
func (q *Queue) Flush() {
	_ = q.b.Flush()
}

// Stop cancels the timer and flushes what is left.
func (q *Queue) Stop() {
	_ = q.b.Stop()
}

// Len reports the number of buffered reports.
func (q *Queue) Len() int {
	return q.b.Len()
}
