package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/e1c-ops/eventlog-watcher/internal/settings"
)

// logDirMarker is the fixed last path segment of every event log
// directory. The parent segment is the infobase identifier.
const logDirMarker = "1Cv8Log"

// Environment fallbacks for service identification when the settings
// file leaves them unset.
const (
	envServiceName    = "E1C_SERVICE_NAME"
	envServiceVersion = "E1C_SERVICE_VERSION"
)

// DispatchContext holds the immutable per-run parameters of one watch
// loop. It is built once at startup and passed by value.
type DispatchContext struct {
	ExecPath         string
	LogDir           string
	Format           string
	FollowMsec       int
	InfobaseID       string
	Module           string
	MetamodelVersion string
	ServiceName      string
	ServiceVersion   string
}

// NewDispatchContext builds the dispatch context from settings and
// environment fallbacks. Identity derivation failure is fatal: it means
// the configured event log directory is not an event log directory.
func NewDispatchContext(s *settings.Settings) (DispatchContext, error) {
	dc := DispatchContext{
		ExecPath:         s.GetString("paths/ibcmd_exec"),
		LogDir:           s.GetString("paths/event_log_dir"),
		Format:           s.GetString("format"),
		FollowMsec:       s.GetInt("follow-time-msec"),
		InfobaseID:       s.GetString("environments/infobase-id"),
		Module:           s.GetString("environments/module"),
		MetamodelVersion: s.GetString("environments/metamodel-version"),
		ServiceName:      s.GetString("environments/service-name"),
		ServiceVersion:   s.GetString("environments/service-version"),
	}

	if dc.InfobaseID == "" {
		id, err := DeriveSourceIdentity(dc.LogDir)
		if err != nil {
			return DispatchContext{}, err
		}
		dc.InfobaseID = id
	}

	if dc.ServiceName == "" {
		dc.ServiceName = os.Getenv(envServiceName)
	}
	if dc.ServiceVersion == "" {
		dc.ServiceVersion = os.Getenv(envServiceVersion)
	}

	return dc, nil
}

// DeriveSourceIdentity extracts the infobase identifier from an event
// log directory path. The last segment must be the 1Cv8Log marker
// (case-insensitive); the segment before it is the identity.
func DeriveSourceIdentity(logDir string) (string, error) {
	parts := strings.Split(filepath.Clean(logDir), string(filepath.Separator))

	if len(parts) < 2 || !strings.EqualFold(parts[len(parts)-1], logDirMarker) {
		return "", fmt.Errorf("%q is not an event log dir", logDir)
	}

	id := parts[len(parts)-2]
	if id == "" {
		return "", fmt.Errorf("%q is not an event log dir", logDir)
	}

	return id, nil
}
