package watch

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// WatchMetrics counts what the dispatcher has done so far.
type WatchMetrics struct {
	LinesRead        int
	RecordsSent      int
	SendErrors       int
	CheckpointWrites int
	Restarts         int
	mu               sync.RWMutex
}

func (m *WatchMetrics) IncLinesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesRead++
}

func (m *WatchMetrics) IncRecordsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordsSent++
}

func (m *WatchMetrics) IncSendErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendErrors++
}

func (m *WatchMetrics) IncCheckpointWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckpointWrites++
}

func (m *WatchMetrics) IncRestarts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Restarts++
}

func (m *WatchMetrics) GetMetricsStamp() WatchMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return WatchMetrics{
		LinesRead:        m.LinesRead,
		RecordsSent:      m.RecordsSent,
		SendErrors:       m.SendErrors,
		CheckpointWrites: m.CheckpointWrites,
		Restarts:         m.Restarts,
	}
}

// Report logs a metrics snapshot every interval until the context is
// cancelled.
func (m *WatchMetrics) Report(ctx context.Context, interval time.Duration, logger hclog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stamp := m.GetMetricsStamp()
			logger.Info("watch metrics",
				"lines_read", stamp.LinesRead,
				"records_sent", stamp.RecordsSent,
				"send_errors", stamp.SendErrors,
				"checkpoint_writes", stamp.CheckpointWrites,
				"restarts", stamp.Restarts)
		case <-ctx.Done():
			return
		}
	}
}
