package watch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatchMetrics_BasicOperations(t *testing.T) {
	metrics := &WatchMetrics{}

	metrics.IncLinesRead()
	metrics.IncRecordsSent()
	metrics.IncSendErrors()
	metrics.IncCheckpointWrites()
	metrics.IncRestarts()

	stamp := metrics.GetMetricsStamp()

	assert.Equal(t, 1, stamp.LinesRead)
	assert.Equal(t, 1, stamp.RecordsSent)
	assert.Equal(t, 1, stamp.SendErrors)
	assert.Equal(t, 1, stamp.CheckpointWrites)
	assert.Equal(t, 1, stamp.Restarts)
}

func TestWatchMetrics_ConcurrentUpdates(t *testing.T) {
	metrics := &WatchMetrics{}

	var wg sync.WaitGroup
	inc := func(fn func()) {
		for i := 0; i < 1000; i++ {
			fn()
		}
		wg.Done()
	}

	wg.Add(5)
	go inc(metrics.IncLinesRead)
	go inc(metrics.IncRecordsSent)
	go inc(metrics.IncSendErrors)
	go inc(metrics.IncCheckpointWrites)
	go inc(metrics.IncRestarts)
	wg.Wait()

	stamp := metrics.GetMetricsStamp()
	assert.Equal(t, 1000, stamp.LinesRead)
	assert.Equal(t, 1000, stamp.RecordsSent)
	assert.Equal(t, 1000, stamp.SendErrors)
	assert.Equal(t, 1000, stamp.CheckpointWrites)
	assert.Equal(t, 1000, stamp.Restarts)
}
