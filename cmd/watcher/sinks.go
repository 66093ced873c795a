package main

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/e1c-ops/eventlog-watcher/internal/settings"
	"github.com/e1c-ops/eventlog-watcher/internal/sink"
	"github.com/e1c-ops/eventlog-watcher/internal/sink/httpservice"
	"github.com/e1c-ops/eventlog-watcher/internal/sink/opensearch"
	"github.com/e1c-ops/eventlog-watcher/internal/watch"
)

// newSink selects the data receiver implementation named by the
// data-receiver settings key. Unknown names fail startup.
func newSink(name string, s *settings.Settings, logger hclog.Logger) (sink.Sink, error) {
	switch name {
	case "opensearch":
		return opensearch.NewSender(s, logger.Named("opensearch")), nil
	case "http-service":
		return httpservice.NewSender(s, logger.Named("http-service")), nil
	default:
		return nil, fmt.Errorf("unknown data receiver: %q", name)
	}
}

// newSource selects the record source. The default drives the export
// tool as a subprocess; "file" tails a pre-exported JSON lines file.
func newSource(s *settings.Settings, dctx watch.DispatchContext, logger hclog.Logger) (watch.LineSource, error) {
	switch src := s.GetString("source"); src {
	case "", "ibcmd":
		return watch.NewExportDriver(dctx, logger.Named("export")), nil
	case "file":
		path := s.GetString("paths/export_file")
		if path == "" {
			return nil, fmt.Errorf("source %q requires paths/export_file", src)
		}
		return watch.NewTailSource(path, logger.Named("tail")), nil
	default:
		return nil, fmt.Errorf("unknown source: %q", src)
	}
}
