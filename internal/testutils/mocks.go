package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/e1c-ops/eventlog-watcher/internal/sink"
)

// MockSink records everything it receives. MarkerFunc decides the
// returned position marker; by default it echoes the record line.
type MockSink struct {
	Records    []sink.Record
	mu         sync.Mutex
	MarkerFunc func(rec sink.Record) (string, error)
	StartErr   error
	StartCalls int
}

func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	return m.StartErr
}

func (m *MockSink) Send(ctx context.Context, rec sink.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Records = append(m.Records, rec)
	if m.MarkerFunc != nil {
		return m.MarkerFunc(rec)
	}
	return rec.Line, nil
}

func (m *MockSink) SentRecords() []sink.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sink.Record, len(m.Records))
	copy(out, m.Records)
	return out
}

func (m *MockSink) SentLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, 0, len(m.Records))
	for _, rec := range m.Records {
		lines = append(lines, rec.Line)
	}
	return lines
}

// WriteStubExport creates an executable shell script standing in for
// the export tool in tests. The body runs with the ibcmd-style
// arguments the driver builds; "$@" makes them inspectable.
func WriteStubExport(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ibcmd-stub")
	script := fmt.Sprintf("#!/bin/sh\n%s\n", body)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing stub export script: %v", err)
	}
	return path
}
