package watch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hpcloud/tail"
)

// TailSource streams records from a file the export tool writes on
// another host. It tails the file in poll mode and reuses the same
// checkpoint semantics as the subprocess driver: on (re)start, records
// dated at or before the checkpoint are skipped.
type TailSource struct {
	Path   string
	logger hclog.Logger
}

func NewTailSource(path string, logger hclog.Logger) *TailSource {
	return &TailSource{Path: path, logger: logger}
}

func (t *TailSource) Start(ctx context.Context, checkpoint string) (*Stream, error) {
	tf, err := tail.TailFile(t.Path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		Poll:      true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("tailing %s: %w", t.Path, err)
	}

	lines := make(chan string)
	var tailErr error
	go func() {
		defer close(lines)
		defer tf.Cleanup()

		// The export file is ordered by date, so skipping ends at the
		// first record past the checkpoint.
		skipping := checkpoint != ""
		for {
			select {
			case <-ctx.Done():
				_ = tf.Stop()
				return
			case line, ok := <-tf.Lines:
				if !ok {
					tailErr = tf.Err()
					return
				}
				if line.Err != nil {
					t.logger.Warn("error reading export file", "error", line.Err)
					continue
				}
				if skipping {
					if date := recordDate(line.Text); date != "" && date <= checkpoint {
						continue
					}
					skipping = false
				}
				select {
				case lines <- line.Text:
				case <-ctx.Done():
					_ = tf.Stop()
					return
				}
			}
		}
	}()

	// Wait reports why the tail died, so a failing file is not
	// mistaken for a clean end of stream.
	wait := func() error {
		if tailErr != nil {
			return fmt.Errorf("tailing %s: %w", t.Path, tailErr)
		}
		return nil
	}

	return &Stream{Lines: lines, wait: wait}, nil
}

func recordDate(line string) string {
	var rec struct {
		Date string `json:"Date"`
	}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return ""
	}
	return rec.Date
}
