package sdk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tiny-errors/pkg/report"
)

func TestQueueFlushesAtBatchSize(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]report.ErrorReport
	)
	q := NewQueue(DefaultBatchSize, time.Hour)
	q.Start(func(reports []report.ErrorReport) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, reports)
	})
	defer q.Stop()

	for i := 0; i < 10; i++ {
		q.Add(report.ErrorReport{EventID: fmt.Sprint(i)})
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 10)
	for i, r := range batches[0] {
		require.Equal(t, fmt.Sprint(i), r.EventID)
	}
	require.Zero(t, q.Len())
}

func TestQueueStopDrainsRemainder(t *testing.T) {
	var got []report.ErrorReport
	q := NewQueue(DefaultBatchSize, time.Hour)
	q.Start(func(reports []report.ErrorReport) { got = append(got, reports...) })

	q.Add(report.ErrorReport{EventID: "a"})
	q.Add(report.ErrorReport{EventID: "b"})
	require.Empty(t, got)

	q.Stop()
	require.Len(t, got, 2)
}

func TestQueueFlushWithoutConsumerKeepsReports(t *testing.T) {
	q := NewQueue(DefaultBatchSize, time.Hour)
	q.Add(report.ErrorReport{EventID: "a"})
	q.Flush()
	require.Equal(t, 1, q.Len())
}
