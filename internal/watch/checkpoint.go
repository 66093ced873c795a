package watch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// CheckpointStore persists the last successfully sent position marker
// for a source identity. One file per identity, named <identity>.dat,
// holding a single-key YAML mapping so operators can inspect it or
// hand-edit it to force a replay.
//
// A single store instance per identity is assumed; there is no file
// locking. Running two watchers against the same infobase corrupts
// checkpoint ordering.
type CheckpointStore struct {
	dir    string
	logger hclog.Logger
}

type checkpointFile struct {
	Checkpoint string `yaml:"checkpoint"`
}

func NewCheckpointStore(dir string, logger hclog.Logger) *CheckpointStore {
	if dir == "" {
		dir = "."
	}
	return &CheckpointStore{dir: dir, logger: logger}
}

// Read returns the persisted marker for the identity. If no checkpoint
// file exists yet, an empty one is created and the empty marker is
// returned. A file that exists but does not parse yields an empty
// marker with a warning: resuming from the start beats stopping the
// agent over a corrupt state file.
func (s *CheckpointStore) Read(id string) (string, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading checkpoint for %s: %w", id, err)
		}
		if err := s.Write(id, ""); err != nil {
			return "", err
		}
		return "", nil
	}

	var cp checkpointFile
	if err := yaml.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint file is unreadable, resuming from empty marker",
			"infobase_id", id, "error", err)
		return "", nil
	}

	return cp.Checkpoint, nil
}

// Write persists the marker, overwriting the previous value. It is
// called once per sent record. The file is replaced by rename so a
// crash mid-write cannot leave a half-written checkpoint behind.
func (s *CheckpointStore) Write(id, marker string) error {
	data, err := yaml.Marshal(checkpointFile{Checkpoint: marker})
	if err != nil {
		return fmt.Errorf("encoding checkpoint for %s: %w", id, err)
	}

	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", id, err)
	}

	return nil
}

func (s *CheckpointStore) path(id string) string {
	return filepath.Join(s.dir, id+".dat")
}
