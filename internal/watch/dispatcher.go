package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/e1c-ops/eventlog-watcher/internal/sink"
)

// DispatcherConfig tunes the restart policy of the watch loop.
type DispatcherConfig struct {
	// MaxRestarts caps consecutive failed cycles; 0 means restart
	// forever. The counter resets after any cycle that delivered at
	// least one record.
	MaxRestarts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRestarts:    0,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// CheckpointStorage is the dispatcher's view of checkpoint
// persistence. Implemented by CheckpointStore.
type CheckpointStorage interface {
	Read(id string) (string, error)
	Write(id, marker string) error
}

// Dispatcher is the watch loop: read the checkpoint, stream lines from
// the source, forward each record to the sink, persist the returned
// marker, and restart the cycle when the export process fails.
//
// Processing is strictly sequential. The persisted checkpoint always
// refers to the most recently sent record, so a crash replays at most
// the records sent since the last write (at-least-once delivery).
type Dispatcher struct {
	dctx    DispatchContext
	source  LineSource
	sink    sink.Sink
	store   CheckpointStorage
	config  DispatcherConfig
	logger  hclog.Logger
	metrics *WatchMetrics
}

func NewDispatcher(dctx DispatchContext, source LineSource, snk sink.Sink,
	store CheckpointStorage, config DispatcherConfig, logger hclog.Logger) *Dispatcher {
	return &Dispatcher{
		dctx:    dctx,
		source:  source,
		sink:    snk,
		store:   store,
		config:  config,
		logger:  logger,
		metrics: &WatchMetrics{},
	}
}

func (d *Dispatcher) Metrics() *WatchMetrics {
	return d.metrics
}

// Run drives watch cycles until the context is cancelled, the source
// ends cleanly, or the restart ceiling is hit.
func (d *Dispatcher) Run(ctx context.Context) error {
	restarts := 0
	backoff := d.config.InitialBackoff

	for {
		delivered, err := d.runCycle(ctx)
		if err == nil {
			d.logger.Info("export stream ended cleanly")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var exportErr *ExportError
		if !errors.As(err, &exportErr) {
			return err
		}

		if delivered > 0 {
			restarts = 0
			backoff = d.config.InitialBackoff
		}
		restarts++
		d.metrics.IncRestarts()

		if d.config.MaxRestarts > 0 && restarts > d.config.MaxRestarts {
			return fmt.Errorf("export process failed %d consecutive times: %w", restarts, exportErr)
		}

		d.logger.Warn("export process failed, restarting from last checkpoint",
			"exit_code", exportErr.ExitCode,
			"stderr", exportErr.Stderr,
			"consecutive_failures", restarts,
			"backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > d.config.MaxBackoff {
			backoff = d.config.MaxBackoff
		}
	}
}

// runCycle runs one source generation start to finish and reports how
// many records advanced the checkpoint.
func (d *Dispatcher) runCycle(ctx context.Context) (int, error) {
	checkpoint, err := d.store.Read(d.dctx.InfobaseID)
	if err != nil {
		return 0, err
	}

	// Each cycle gets its own context so every exit path tears the
	// source down instead of orphaning a follow-mode subprocess.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := d.source.Start(cctx, checkpoint)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for line := range stream.Lines {
		d.metrics.IncLinesRead()

		if strings.TrimSpace(line) == "" {
			continue
		}

		marker, sendErr := d.sink.Send(ctx, sink.Record{
			Line:             line,
			InfobaseID:       d.dctx.InfobaseID,
			Module:           d.dctx.Module,
			MetamodelVersion: d.dctx.MetamodelVersion,
			ServiceName:      d.dctx.ServiceName,
			ServiceVersion:   d.dctx.ServiceVersion,
		})
		if sendErr != nil {
			if ctx.Err() != nil {
				// Abandoned in-flight record: no checkpoint write.
				break
			}
			d.metrics.IncSendErrors()
			d.logger.Error("sink delivery failed", "error", sendErr)
		} else {
			d.metrics.IncRecordsSent()
		}

		// The marker is persisted even when it did not move forward
		// (timestamp parse fallback) or when delivery failed; an empty
		// marker would rewind the stream and is never written.
		if marker == "" {
			continue
		}
		if err := d.store.Write(d.dctx.InfobaseID, marker); err != nil {
			cancel()
			for range stream.Lines {
			}
			_ = stream.Wait()
			return delivered, err
		}
		d.metrics.IncCheckpointWrites()
		delivered++
	}

	return delivered, stream.Wait()
}
