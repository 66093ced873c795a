package sink

import "context"

// Record is one raw event log line plus the dispatch context fields
// that identify where it came from.
type Record struct {
	Line             string
	InfobaseID       string
	Module           string
	MetamodelVersion string
	ServiceName      string
	ServiceVersion   string
}

// Sink consumes normalized event records.
//
// Send returns the position marker extracted from the record, used as
// the next checkpoint value. When the record's timestamp cannot be
// parsed, implementations return the raw date field unchanged instead
// of failing: no forward progress, but the stream keeps moving. A
// delivery error is returned alongside whatever marker could still be
// derived; the dispatcher logs it and carries on.
type Sink interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, rec Record) (marker string, err error)
}
